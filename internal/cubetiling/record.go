package cubetiling

import (
	"fmt"

	"github.com/samcharles93/cubetile/pkg/tilingdata"
)

// Record converts the tiling into a container record for op.
func (t CubeTiling) Record(op OpType) tilingdata.Record {
	var flags uint32
	if t.SingleCoreFallback {
		flags |= tilingdata.FlagSingleCoreFallback
	}
	return tilingdata.Record{
		Op:       string(op),
		TilingID: t.TilingID,
		Flags:    flags,
		Fields:   t.ABIFields(),
	}
}

// TilingFromRecord rebuilds a tiling and its op type from a container
// record. The tiling is checked with Validate.
func TilingFromRecord(r tilingdata.Record) (OpType, CubeTiling, error) {
	op := OpType(r.Op)
	if _, ok := lookupFamily(op); !ok {
		return "", CubeTiling{}, fmt.Errorf("%w: %q", ErrUnknownOpType, r.Op)
	}
	t, err := TilingFromABI(r.Fields, r.TilingID)
	if err != nil {
		return "", CubeTiling{}, err
	}
	t.SingleCoreFallback = r.Flags&tilingdata.FlagSingleCoreFallback != 0
	if err := t.Validate(); err != nil {
		return "", CubeTiling{}, err
	}
	return op, t, nil
}
