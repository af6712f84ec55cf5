package catalog

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// UpdateArgs is a tagged record naming a frame operation, the inclusive
// frame range it applies to, and any operation-specific named parameters.
// It is the value carried by LOGICAL_UPDATE/PHYSICAL_UPDATE/PPHYSICAL_UPDATE
// log records and must be apply-equivalent across a serialize/deserialize
// round trip: Equal(a, Deserialize(Serialize(a))) is always true.
type UpdateArgs struct {
	FunctionName string         `msgpack:"function_name"`
	StartFrame   int            `msgpack:"start_frame"`
	EndFrame     int            `msgpack:"end_frame"`
	Kwargs       map[string]any `msgpack:"kwargs"`
}

// NewUpdateArgs builds update arguments for the named operation over the
// inclusive frame range [startFrame, endFrame].
func NewUpdateArgs(functionName string, startFrame, endFrame int, kwargs map[string]any) UpdateArgs {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return UpdateArgs{
		FunctionName: functionName,
		StartFrame:   startFrame,
		EndFrame:     endFrame,
		Kwargs:       kwargs,
	}
}

// Equal reports whether two UpdateArgs values are apply-equivalent.
func (a UpdateArgs) Equal(other UpdateArgs) bool {
	if a.FunctionName != other.FunctionName ||
		a.StartFrame != other.StartFrame ||
		a.EndFrame != other.EndFrame ||
		len(a.Kwargs) != len(other.Kwargs) {
		return false
	}
	for k, v := range a.Kwargs {
		ov, ok := other.Kwargs[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(ov) {
			return false
		}
	}
	return true
}

// Serialize encodes the update arguments with a self-describing encoding.
func (a UpdateArgs) Serialize() ([]byte, error) {
	b, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("catalog: serializing update args: %w", err)
	}
	return b, nil
}

// DeserializeUpdateArgs decodes UpdateArgs previously produced by Serialize.
func DeserializeUpdateArgs(b []byte) (UpdateArgs, error) {
	var a UpdateArgs
	if err := msgpack.Unmarshal(b, &a); err != nil {
		return UpdateArgs{}, fmt.Errorf("catalog: deserializing update args: %w", err)
	}
	if a.Kwargs == nil {
		a.Kwargs = map[string]any{}
	}
	return a, nil
}

// String implements fmt.Stringer for log messages.
func (a UpdateArgs) String() string {
	return fmt.Sprintf("UpdateArgs(%s, [%d,%d], %v)", a.FunctionName, a.StartFrame, a.EndFrame, a.Kwargs)
}
