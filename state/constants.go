package state

const (
	// MaxMetric is the saturation bound of every metric computation.
	MaxMetric = ^(uint32)(0)
	// MaxOspfMetric is the largest cost an OSPF route may carry before it is
	// treated as unreachable.
	MaxOspfMetric = uint32(0xFFFFFF)
	MaxIsisMetric = uint32(0xFE000000)
)

var (
	DefaultOspfCost      = uint32(10)
	DefaultIsisMetric    = uint32(10)
	DefaultLocalPref     = uint32(100)
	DefaultRedistMetric  = uint32(20)
	LocalWeight          = uint32(32768)
	DefaultTopologyIters = 10
	// MaxResolutionDepth bounds recursive next-hop resolution.
	MaxResolutionDepth = 16
	// RoundsPerUnit scales the derived round budget (nodes * protocols * RoundsPerUnit).
	RoundsPerUnit  = 4
	MinRoundBudget = 32
)

// AddMetric adds two metrics, saturating at MaxMetric.
func AddMetric(a, b uint32) uint32 {
	if a > MaxMetric-b {
		return MaxMetric
	}
	return a + b
}

// SubMetric subtracts b from a, saturating at 0.
func SubMetric(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
