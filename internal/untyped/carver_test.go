package untyped

import (
	"testing"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/atag"
)

func TestCarveRegionPartitionProperty(t *testing.T) {
	cases := []struct {
		name       string
		start, end uint64
	}{
		{"aligned pow2", 0x10000, 0x20000},
		{"unaligned start", 0x10010, 0x30000},
		{"tiny window", 0x1000, 0x1010},
		{"single byte", 0x1000, 0x1001},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, dropped, err := CarveRegion(nil, c.start, c.end, false)
			if err != nil {
				t.Fatalf("CarveRegion: %v", err)
			}
			var installed uint64
			for _, r := range out {
				if uint64(r.Base)%r.Size() != 0 {
					t.Errorf("region base %#x not aligned to its size %#x", r.Base, r.Size())
				}
				if r.SizeBits <= minUntypedBits {
					t.Errorf("region size_bits=%d should have been dropped", r.SizeBits)
				}
				installed += r.Size()
			}
			if installed+dropped != c.end-c.start {
				t.Errorf("installed(%d)+dropped(%d) != window size(%d)", installed, dropped, c.end-c.start)
			}
		})
	}
}

func TestCarveRegionMaximalAlignment(t *testing.T) {
	// A window starting at a highly aligned base and exactly one page long
	// must produce a single maximally sized block, not a run of smaller
	// ones.
	out, dropped, err := CarveRegion(nil, 0x100000, 0x100000+0x1000, false)
	if err != nil {
		t.Fatalf("CarveRegion: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("expected no dropped bytes, got %d", dropped)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 region, got %d", len(out))
	}
	if out[0].SizeBits != 12 {
		t.Errorf("expected a single 4 KiB block, got size_bits=%d", out[0].SizeBits)
	}
}

func TestCarveRegionRejectsInvertedRange(t *testing.T) {
	if _, _, err := CarveRegion(nil, 0x2000, 0x1000, false); err == nil {
		t.Fatal("expected an error for end < start")
	}
}

func TestPopulateFromBankExcludesKernelImage(t *testing.T) {
	kernelBase := uint64(addr.PhysBase)
	kernelTop := uint64(0x20000)

	bank := atag.MemTag{Start: 0, Size: 0x100000}
	out, err := PopulateFromBank(nil, bank, kernelBase, kernelTop)
	if err != nil {
		t.Fatalf("PopulateFromBank: %v", err)
	}
	for _, r := range out {
		if uint64(r.Base) < kernelTop && uint64(r.Base)+r.Size() > kernelBase {
			t.Errorf("region [%#x, %#x) overlaps kernel image [%#x, %#x)", r.Base, uint64(r.Base)+r.Size(), kernelBase, kernelTop)
		}
	}
}

func TestPopulateFromSourceOrderMatchesBanks(t *testing.T) {
	src := atag.Static{
		{Start: 0x0, Size: 0x100000},
		{Start: 0x200000, Size: 0x100000},
	}
	out, err := PopulateFromSource(src, 0, 0x20000)
	if err != nil {
		t.Fatalf("PopulateFromSource: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one region from two banks")
	}
	// Every region from the second bank must come after every region
	// belonging to the first (list order is bank order).
	var sawSecondBank bool
	for _, r := range out {
		if uint64(r.Base) >= 0x200000 {
			sawSecondBank = true
		} else if sawSecondBank {
			t.Fatalf("region %#x from first bank appeared after second bank's regions", r.Base)
		}
	}
}
