package threadctx

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/sarchlab/dyncom/emu"
)

// snapshot file format:
//
// header (big endian)
//   [4]byte  magic "DYNC"
//   uint8    length of version string
//   string   format version (semver)
//   uint32   crc32 of compressed body
//   uint32   length of compressed body
// remainder is a snappy stream
//
// -- uncompressed body (little endian) --
// [12]byte snapshot id (xid)
// uint64   global ticks at capture
// uint32   number of threads
// 1..num:  uint32 id, uint32 priority, uint32 status,
//          uint16 name length, name bytes, Context

// FormatVersion is the snapshot format written by this package.
const FormatVersion = "1.0.0"

// compatibleFormats is the range of format versions ReadSnapshot accepts.
const compatibleFormats = "^1.0.0"

var snapshotMagic = [4]byte{'D', 'Y', 'N', 'C'}

// ThreadRecord is one guest thread in a snapshot.
type ThreadRecord struct {
	ID       uint32
	Priority uint32
	Status   uint32
	Name     string
	Context  Context
}

// Snapshot is a persisted set of guest threads.
type Snapshot struct {
	ID      xid.ID
	Version string
	Ticks   uint64
	Threads []ThreadRecord
}

type fileHeader struct {
	Magic      [4]byte
	VersionLen int `struc:"uint8,sizeof=Version"`
	Version    string
	CRC        uint32
	BodyLen    uint32
}

type bodyHeader struct {
	ID      [12]byte
	Ticks   uint64
	Threads uint32
}

type threadHeader struct {
	ID       uint32
	Priority uint32
	Status   uint32
	NameLen  int `struc:"uint16,sizeof=Name"`
	Name     string
}

var (
	headerOptions = &struc.Options{Order: binary.BigEndian}
	bodyOptions   = &struc.Options{Order: binary.LittleEndian}
)

// NewSnapshot returns an empty snapshot with a fresh id.
func NewSnapshot(ticks uint64) *Snapshot {
	return &Snapshot{
		ID:      xid.New(),
		Version: FormatVersion,
		Ticks:   ticks,
	}
}

// Write encodes the snapshot to w.
func (s *Snapshot) Write(w io.Writer) error {
	var body bytes.Buffer

	bh := bodyHeader{
		ID:      s.ID,
		Ticks:   s.Ticks,
		Threads: uint32(len(s.Threads)),
	}
	if err := struc.PackWithOptions(&body, &bh, bodyOptions); err != nil {
		return errors.Wrap(err, "packing snapshot body header")
	}

	for i := range s.Threads {
		t := &s.Threads[i]
		th := threadHeader{
			ID:       t.ID,
			Priority: t.Priority,
			Status:   t.Status,
			Name:     t.Name,
		}
		if err := struc.PackWithOptions(&body, &th, bodyOptions); err != nil {
			return errors.Wrapf(err, "packing thread %d", t.ID)
		}
		if err := t.Context.Pack(&body, binary.LittleEndian); err != nil {
			return errors.Wrapf(err, "packing thread %d context", t.ID)
		}
	}

	var compressed bytes.Buffer
	zw := snappy.NewBufferedWriter(&compressed)
	if _, err := body.WriteTo(zw); err != nil {
		return errors.Wrap(err, "compressing snapshot")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "compressing snapshot")
	}
	data := compressed.Bytes()

	version := s.Version
	if version == "" {
		version = FormatVersion
	}
	fh := fileHeader{
		Magic:   snapshotMagic,
		Version: version,
		CRC:     crc32.ChecksumIEEE(data),
		BodyLen: uint32(len(data)),
	}
	if err := struc.PackWithOptions(w, &fh, headerOptions); err != nil {
		return errors.Wrap(err, "writing snapshot header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "writing snapshot body")
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by Write. Any structural problem is
// reported as emu.ErrCorruptState.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var fh fileHeader
	if err := struc.UnpackWithOptions(r, &fh, headerOptions); err != nil {
		return nil, errors.Wrapf(emu.ErrCorruptState, "snapshot header: %v", err)
	}
	if fh.Magic != snapshotMagic {
		return nil, errors.Wrapf(emu.ErrCorruptState, "bad snapshot magic %q", fh.Magic[:])
	}
	if err := checkVersion(fh.Version); err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	n, err := io.Copy(&compressed, io.LimitReader(r, int64(fh.BodyLen)))
	if err != nil {
		return nil, errors.Wrapf(emu.ErrCorruptState, "snapshot body: %v", err)
	}
	if n != int64(fh.BodyLen) {
		return nil, errors.Wrapf(emu.ErrCorruptState, "snapshot body is %d bytes, header says %d", n, fh.BodyLen)
	}
	data := compressed.Bytes()
	if crc := crc32.ChecksumIEEE(data); crc != fh.CRC {
		return nil, errors.Wrapf(emu.ErrCorruptState, "snapshot crc 0x%08X, header says 0x%08X", crc, fh.CRC)
	}

	body, err := io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrapf(emu.ErrCorruptState, "decompressing snapshot: %v", err)
	}
	br := bytes.NewReader(body)

	var bh bodyHeader
	if err := struc.UnpackWithOptions(br, &bh, bodyOptions); err != nil {
		return nil, errors.Wrapf(emu.ErrCorruptState, "snapshot body header: %v", err)
	}

	snap := &Snapshot{
		ID:      xid.ID(bh.ID),
		Version: fh.Version,
		Ticks:   bh.Ticks,
	}
	for i := uint32(0); i < bh.Threads; i++ {
		var th threadHeader
		if err := struc.UnpackWithOptions(br, &th, bodyOptions); err != nil {
			return nil, errors.Wrapf(emu.ErrCorruptState, "thread %d header: %v", i, err)
		}
		rec := ThreadRecord{
			ID:       th.ID,
			Priority: th.Priority,
			Status:   th.Status,
			Name:     th.Name,
		}
		if err := rec.Context.Unpack(br, binary.LittleEndian); err != nil {
			return nil, errors.Wrapf(err, "thread %d", th.ID)
		}
		if err := rec.Context.Validate(); err != nil {
			return nil, errors.Wrapf(err, "thread %d", th.ID)
		}
		snap.Threads = append(snap.Threads, rec)
	}

	if br.Len() != 0 {
		return nil, errors.Wrapf(emu.ErrCorruptState, "%d trailing bytes in snapshot", br.Len())
	}
	return snap, nil
}

func checkVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(emu.ErrCorruptState, "snapshot version %q: %v", v, err)
	}
	constraint, err := semver.NewConstraint(compatibleFormats)
	if err != nil {
		return errors.Wrap(err, "snapshot version constraint")
	}
	if !constraint.Check(version) {
		return errors.Wrapf(emu.ErrCorruptState, "snapshot version %s not in %s", v, compatibleFormats)
	}
	return nil
}
