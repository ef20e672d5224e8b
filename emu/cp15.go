package emu

import "fmt"

// CP15Register identifies a system control coprocessor register.
type CP15Register int

// CP15 registers of the ARM11 MPCore, in register-file order.
const (
	CP15MainID CP15Register = iota
	CP15CacheType
	CP15TCMStatus
	CP15TLBType
	CP15CPUID
	CP15ProcessorFeature0
	CP15ProcessorFeature1
	CP15DebugFeature0
	CP15AuxiliaryFeature0
	CP15MemoryModelFeature0
	CP15MemoryModelFeature1
	CP15MemoryModelFeature2
	CP15MemoryModelFeature3
	CP15ISAFeature0
	CP15ISAFeature1
	CP15ISAFeature2
	CP15ISAFeature3
	CP15ISAFeature4

	CP15Control
	CP15AuxiliaryControl
	CP15CoprocessorAccessControl

	CP15TranslationTableBase0
	CP15TranslationTableBase1
	CP15TranslationTableControl
	CP15DomainAccessControl

	CP15FaultStatus
	CP15InstructionFaultStatus
	CP15FaultAddress
	CP15WatchpointFaultAddress

	CP15WaitForInterrupt
	CP15PhysicalAddress
	CP15InvalidateInstructionCache
	CP15FlushPrefetchBuffer
	CP15InvalidateDataCache
	CP15CleanDataCache
	CP15DataSyncBarrier
	CP15DataMemoryBarrier

	CP15InvalidateITLB
	CP15InvalidateDTLB
	CP15InvalidateUTLB

	CP15TLBLockdown
	CP15PrimaryRegionRemap
	CP15NormalRegionRemap

	CP15ContextID
	CP15ThreadUPRW
	CP15ThreadURO
	CP15ThreadPRW

	CP15PerformanceMonitorControl
	CP15CycleCounter
	CP15Count0
	CP15Count1

	NumCP15Registers
)

var cp15Names = [NumCP15Registers]string{
	"main_id", "cache_type", "tcm_status", "tlb_type", "cpu_id",
	"processor_feature_0", "processor_feature_1", "debug_feature_0", "auxiliary_feature_0",
	"memory_model_feature_0", "memory_model_feature_1", "memory_model_feature_2", "memory_model_feature_3",
	"isa_feature_0", "isa_feature_1", "isa_feature_2", "isa_feature_3", "isa_feature_4",
	"control", "auxiliary_control", "coprocessor_access_control",
	"translation_table_base_0", "translation_table_base_1", "translation_table_control", "domain_access_control",
	"fault_status", "instruction_fault_status", "fault_address", "watchpoint_fault_address",
	"wait_for_interrupt", "physical_address", "invalidate_icache", "flush_prefetch_buffer",
	"invalidate_dcache", "clean_dcache", "data_sync_barrier", "data_memory_barrier",
	"invalidate_itlb", "invalidate_dtlb", "invalidate_utlb",
	"tlb_lockdown", "primary_region_remap", "normal_region_remap",
	"context_id", "thread_uprw", "thread_uro", "thread_prw",
	"performance_monitor_control", "cycle_counter", "count_0", "count_1",
}

// Valid reports whether r names a register in the CP15 bank.
func (r CP15Register) Valid() bool {
	return r >= 0 && r < NumCP15Registers
}

func (r CP15Register) String() string {
	if r.Valid() {
		return cp15Names[r]
	}
	return fmt.Sprintf("cp15(%d)", int(r))
}
