package value

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MarshalBSON encodes the Value as a small tagged document {k: kind, v:
// payload}, keeping Value a self-describing unit inside larger BSON
// documents (rows, WAL records) the way the teacher's storage layer
// encodes documents with go.mongodb.org/mongo-driver/v2/bson.
func (v Value) MarshalBSON() ([]byte, error) {
	doc := bson.D{{Key: "k", Value: uint8(v.Kind)}}
	switch v.Kind {
	case TypeInt:
		doc = append(doc, bson.E{Key: "v", Value: v.Int})
	case TypeFloat:
		doc = append(doc, bson.E{Key: "v", Value: v.Float})
	case TypeBool:
		doc = append(doc, bson.E{Key: "v", Value: v.Bool})
	case TypeString:
		doc = append(doc, bson.E{Key: "v", Value: v.Str})
	case TypeBytes:
		doc = append(doc, bson.E{Key: "v", Value: v.Bytes})
	case TypeNull:
		// no payload field
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
	return bson.Marshal(doc)
}

func (v *Value) UnmarshalBSON(data []byte) error {
	var raw struct {
		K uint8  `bson:"k"`
		V bson.RawValue `bson:"v"`
	}
	if err := bson.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("value: decode: %w", err)
	}
	v.Kind = Type(raw.K)
	switch v.Kind {
	case TypeInt:
		i, ok := raw.V.Int64OK()
		if !ok {
			i32, ok2 := raw.V.Int32OK()
			if !ok2 {
				return fmt.Errorf("value: expected int payload")
			}
			i = int64(i32)
		}
		v.Int = i
	case TypeFloat:
		f, ok := raw.V.DoubleOK()
		if !ok {
			return fmt.Errorf("value: expected float payload")
		}
		v.Float = f
	case TypeBool:
		b, ok := raw.V.BooleanOK()
		if !ok {
			return fmt.Errorf("value: expected bool payload")
		}
		v.Bool = b
	case TypeString:
		s, ok := raw.V.StringValueOK()
		if !ok {
			return fmt.Errorf("value: expected string payload")
		}
		v.Str = s
	case TypeBytes:
		_, b, ok := raw.V.BinaryOK()
		if !ok {
			return fmt.Errorf("value: expected bytes payload")
		}
		v.Bytes = append([]byte(nil), b...)
	case TypeNull:
		// nothing to decode
	default:
		return fmt.Errorf("value: unknown kind %d", v.Kind)
	}
	return nil
}
