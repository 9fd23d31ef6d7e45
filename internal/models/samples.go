package models

// Kind identifies the numeric type used to store the samples of a volume
type Kind int

const (
	KindUint8 Kind = iota
	KindInt16
	KindUint16
	KindInt32
	KindFloat32
	KindFloat64
)

func (k Kind) String() string {
	switch k {
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	}
	return "unknown"
}

// Number is the closed set of storage types a volume may use
type Number interface {
	~uint8 | ~int16 | ~uint16 | ~int32 | ~float32 | ~float64
}

// Samples gives uniform float64 access to typed voxel storage
type Samples interface {
	Len() int
	At(i int) float64
	Kind() Kind
}

// Buffer is typed voxel storage
type Buffer[T Number] []T

func (b Buffer[T]) Len() int { return len(b) }

func (b Buffer[T]) At(i int) float64 { return float64(b[i]) }

func (b Buffer[T]) Kind() Kind {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return KindUint8
	case int16:
		return KindInt16
	case uint16:
		return KindUint16
	case int32:
		return KindInt32
	case float32:
		return KindFloat32
	}
	return KindFloat64
}
