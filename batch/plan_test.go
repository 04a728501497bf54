package batch

import (
	"testing"

	"warlogix/plcerr"
	"warlogix/value"
)

func readOp(tag string) Op { return Op{Tag: tag, Desc: value.Descriptor{Type: value.TypeDINT, ElementSize: 4}} }

func writeOp(tag string, v int32) Op {
	val := value.Dint(v)
	return Op{Tag: tag, Value: &val, Desc: value.Descriptor{Type: value.TypeDINT, ElementSize: 4}}
}

func TestPlanEmptyReturnsNoPackets(t *testing.T) {
	packets, err := Plan(nil, DefaultConfig())
	if err != nil || len(packets) != 0 {
		t.Fatalf("Plan(nil) = %v, %v", packets, err)
	}
}

func TestPlanRespectsOpCountBudget(t *testing.T) {
	ops := make([]Op, 45)
	for i := range ops {
		ops[i] = readOp("Tag")
	}
	cfg := DefaultConfig() // max_ops_per_packet = 20
	packets, err := Plan(ops, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("expected 3 packets for 45 ops at 20/packet, got %d", len(packets))
	}
	for i, p := range packets[:2] {
		if len(p.ops) != 20 {
			t.Errorf("packet %d has %d ops, want 20", i, len(p.ops))
		}
	}
	if len(packets[2].ops) != 5 {
		t.Errorf("last packet has %d ops, want 5", len(packets[2].ops))
	}
}

func TestPlanRespectsByteBudget(t *testing.T) {
	ops := make([]Op, 10)
	for i := range ops {
		ops[i] = readOp("SomeFairlyLongTagNameForSizeBudgeting")
	}
	cfg := Config{MaxOpsPerPacket: 100, MaxPacketSize: 60, ContinueOnError: true}
	packets, err := Plan(ops, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 2 {
		t.Fatalf("expected multiple packets under a tight byte budget, got %d", len(packets))
	}
	for _, p := range packets {
		size := 2
		for _, op := range p.ops {
			size += op.size
		}
		if size > cfg.MaxPacketSize {
			t.Errorf("packet size %d exceeds budget %d", size, cfg.MaxPacketSize)
		}
	}
}

func TestPlanGroupsReadsBeforeWritesWhenOptimized(t *testing.T) {
	ops := []Op{writeOp("W1", 1), readOp("R1"), writeOp("W2", 2), readOp("R2")}
	cfg := Config{MaxOpsPerPacket: 100, MaxPacketSize: 4000, OptimizePacketPacking: true}
	packets, err := Plan(ops, cfg)
	if err != nil || len(packets) != 1 {
		t.Fatalf("Plan: %v, %v", packets, err)
	}
	p := packets[0]
	if p.ops[0].op.Tag != "R1" || p.ops[1].op.Tag != "R2" || p.ops[2].op.Tag != "W1" || p.ops[3].op.Tag != "W2" {
		var order []string
		for _, o := range p.ops {
			order = append(order, o.op.Tag)
		}
		t.Fatalf("expected reads before writes in stable order, got %v", order)
	}
	// original indices must still reference the caller's submission order.
	if p.ops[0].origIndex != 1 || p.ops[2].origIndex != 0 {
		t.Fatalf("origIndex not preserved: %+v", p.ops)
	}
}

func TestPlanPreservesInsertionOrderWhenNotOptimized(t *testing.T) {
	ops := []Op{writeOp("W1", 1), readOp("R1")}
	cfg := ConservativePreset()
	packets, err := Plan(ops, cfg)
	if err != nil || len(packets) != 1 {
		t.Fatalf("Plan: %v, %v", packets, err)
	}
	if packets[0].ops[0].op.Tag != "W1" || packets[0].ops[1].op.Tag != "R1" {
		t.Fatalf("expected insertion order preserved under conservative preset")
	}
}

// bigArrayOp builds a write of n DINT elements, large enough to blow past a
// small packet budget and force Plan to route it to a fragmented packet.
func bigArrayOp(tag string, n int) Op {
	elems := make([]value.Value, n)
	for i := range elems {
		elems[i] = value.Dint(int32(i))
	}
	v := value.Arr(value.TypeDINT, elems)
	return Op{Tag: tag, Value: &v, Desc: value.Descriptor{Type: value.TypeDINT, ElementSize: 4, Dims: []int{n}}}
}

func TestPlanRoutesOversizedOpToFragmentedPacket(t *testing.T) {
	ops := []Op{readOp("R1"), bigArrayOp("BigArray", 100)}
	cfg := Config{MaxOpsPerPacket: 100, MaxPacketSize: 120, ContinueOnError: true}

	packets, err := Plan(ops, cfg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var fragmented int
	for _, p := range packets {
		if p.fragmented {
			fragmented++
			if len(p.ops) != 1 || p.ops[0].op.Tag != "BigArray" {
				t.Fatalf("fragmented packet = %+v, want the oversized write alone", p.ops)
			}
		}
	}
	if fragmented != 1 {
		t.Fatalf("expected exactly one fragmented packet, got %d", fragmented)
	}
}

func TestPlanReturnsCapacityErrorWhenPathAloneExceedsBudget(t *testing.T) {
	ops := []Op{readOp("SomeFairlyLongTagNameThatAloneExceedsAVeryTinyBudget")}
	cfg := Config{MaxOpsPerPacket: 100, MaxPacketSize: 8, ContinueOnError: true}

	_, err := Plan(ops, cfg)
	if err == nil {
		t.Fatal("expected an error when the tag path alone exceeds max_packet_size")
	}
	perr, ok := err.(*plcerr.Error)
	if !ok {
		t.Fatalf("err is %T, want *plcerr.Error", err)
	}
	if perr.Kind != plcerr.Capacity {
		t.Errorf("Kind = %v, want Capacity", perr.Kind)
	}
}

func TestPresetValues(t *testing.T) {
	hp := HighPerformancePreset()
	if hp.MaxOpsPerPacket != 50 || hp.MaxPacketSize != 4000 || hp.PacketTimeoutMS != 1000 {
		t.Errorf("high performance preset = %+v", hp)
	}
	cons := ConservativePreset()
	if cons.MaxOpsPerPacket != 10 || cons.MaxPacketSize != 504 || cons.PacketTimeoutMS != 5000 || cons.OptimizePacketPacking {
		t.Errorf("conservative preset = %+v", cons)
	}
}
