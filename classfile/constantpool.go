package classfile

import "fmt"

// ConstKind is the kind of a constant pool entry.
type ConstKind uint8

// Constant pool entry kinds, with their classfile tag values.
const (
	ConstUTF8               ConstKind = 1
	ConstInteger            ConstKind = 3
	ConstFloat              ConstKind = 4
	ConstLong               ConstKind = 5
	ConstDouble             ConstKind = 6
	ConstClass              ConstKind = 7
	ConstString             ConstKind = 8
	ConstFieldref           ConstKind = 9
	ConstMethodref          ConstKind = 10
	ConstInterfaceMethodref ConstKind = 11
	ConstNameAndType        ConstKind = 12
	ConstInvokeDynamic      ConstKind = 18
)

// Constant is one constant pool entry. Which fields are meaningful depends
// on Kind.
type Constant struct {
	Kind ConstKind

	Str    string  // UTF8 bytes
	Int    int64   // Integer/Long value
	Float  float64 // Float/Double value
	First  uint16  // Class: name index; String: utf8 index; refs: class index; NameAndType: name index
	Second uint16  // refs: name-and-type index; NameAndType: descriptor index
}

// ConstantPool is an append-only JVM constant pool. Indices are 1-based;
// long and double entries occupy two indices, per the classfile format.
// Add methods return the index of an existing identical entry rather than
// inserting a duplicate.
type ConstantPool struct {
	entries []Constant // entries[0] is a placeholder for index 0
}

// NewConstantPool creates an empty constant pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: make([]Constant, 1)}
}

// Len returns the next free constant pool index.
func (cp *ConstantPool) Len() int {
	return len(cp.entries)
}

func (cp *ConstantPool) add(c Constant) uint16 {
	for i := 1; i < len(cp.entries); i++ {
		if cp.entries[i] == c {
			return uint16(i)
		}
	}
	idx := uint16(len(cp.entries))
	cp.entries = append(cp.entries, c)
	if c.Kind == ConstLong || c.Kind == ConstDouble {
		// second slot of an 8-byte constant is unusable
		cp.entries = append(cp.entries, Constant{})
	}
	return idx
}

// Get returns the constant at the given index. Panics if the index is out of
// range or refers to the unusable second slot of a long/double entry; pool
// indices come from this package's own Add methods, so a bad index is a
// caller bug. Indices taken from instruction operands go through the
// resolving accessors (ClassName, RefInfo, LoadableType) instead, which
// report bad indices as errors.
func (cp *ConstantPool) Get(index uint16) Constant {
	c, err := cp.lookup(index)
	if err != nil {
		panic(err.Error())
	}
	return c
}

func (cp *ConstantPool) lookup(index uint16) (Constant, error) {
	if int(index) < 1 || int(index) >= len(cp.entries) {
		return Constant{}, fmt.Errorf("classfile: constant pool index %d out of range", index)
	}
	c := cp.entries[index]
	if c.Kind == 0 {
		return Constant{}, fmt.Errorf("classfile: constant pool index %d is not a valid entry", index)
	}
	return c, nil
}

// AddUTF8 interns a UTF8 string and returns its index.
func (cp *ConstantPool) AddUTF8(s string) uint16 {
	return cp.add(Constant{Kind: ConstUTF8, Str: s})
}

// AddClass interns a class reference for the given internal name (or array
// descriptor) and returns its index.
func (cp *ConstantPool) AddClass(name string) uint16 {
	utf8 := cp.AddUTF8(name)
	return cp.add(Constant{Kind: ConstClass, First: utf8})
}

// AddInteger interns an int constant.
func (cp *ConstantPool) AddInteger(v int32) uint16 {
	return cp.add(Constant{Kind: ConstInteger, Int: int64(v)})
}

// AddFloat interns a float constant.
func (cp *ConstantPool) AddFloat(v float32) uint16 {
	return cp.add(Constant{Kind: ConstFloat, Float: float64(v)})
}

// AddLong interns a long constant.
func (cp *ConstantPool) AddLong(v int64) uint16 {
	return cp.add(Constant{Kind: ConstLong, Int: v})
}

// AddDouble interns a double constant.
func (cp *ConstantPool) AddDouble(v float64) uint16 {
	return cp.add(Constant{Kind: ConstDouble, Float: v})
}

// AddString interns a String literal constant.
func (cp *ConstantPool) AddString(s string) uint16 {
	utf8 := cp.AddUTF8(s)
	return cp.add(Constant{Kind: ConstString, First: utf8})
}

// AddNameAndType interns a name-and-type entry.
func (cp *ConstantPool) AddNameAndType(name, descriptor string) uint16 {
	n := cp.AddUTF8(name)
	d := cp.AddUTF8(descriptor)
	return cp.add(Constant{Kind: ConstNameAndType, First: n, Second: d})
}

// AddFieldref interns a field reference.
func (cp *ConstantPool) AddFieldref(class, name, descriptor string) uint16 {
	c := cp.AddClass(class)
	nt := cp.AddNameAndType(name, descriptor)
	return cp.add(Constant{Kind: ConstFieldref, First: c, Second: nt})
}

// AddMethodref interns a method reference.
func (cp *ConstantPool) AddMethodref(class, name, descriptor string) uint16 {
	c := cp.AddClass(class)
	nt := cp.AddNameAndType(name, descriptor)
	return cp.add(Constant{Kind: ConstMethodref, First: c, Second: nt})
}

// AddInterfaceMethodref interns an interface method reference.
func (cp *ConstantPool) AddInterfaceMethodref(class, name, descriptor string) uint16 {
	c := cp.AddClass(class)
	nt := cp.AddNameAndType(name, descriptor)
	return cp.add(Constant{Kind: ConstInterfaceMethodref, First: c, Second: nt})
}

// AddInvokeDynamic interns an invokedynamic entry. The bootstrap method
// index is carried in First verbatim; this pool does not model the
// BootstrapMethods attribute.
func (cp *ConstantPool) AddInvokeDynamic(bootstrap uint16, name, descriptor string) uint16 {
	nt := cp.AddNameAndType(name, descriptor)
	return cp.add(Constant{Kind: ConstInvokeDynamic, First: bootstrap, Second: nt})
}

// ClassName returns the internal name of the Class entry at index.
func (cp *ConstantPool) ClassName(index uint16) (string, error) {
	c, err := cp.lookup(index)
	if err != nil {
		return "", err
	}
	if c.Kind != ConstClass {
		return "", fmt.Errorf("classfile: constant %d is %d, not a class reference", index, c.Kind)
	}
	return cp.Get(c.First).Str, nil
}

// RefInfo resolves a Fieldref/Methodref/InterfaceMethodref/InvokeDynamic
// entry into its member name and descriptor. For field/method refs it also
// returns the owning class's internal name; for invokedynamic the class is
// empty.
func (cp *ConstantPool) RefInfo(index uint16) (class, name, descriptor string, err error) {
	c, err := cp.lookup(index)
	if err != nil {
		return "", "", "", err
	}
	switch c.Kind {
	case ConstFieldref, ConstMethodref, ConstInterfaceMethodref:
		class, err = cp.ClassName(c.First)
		if err != nil {
			return "", "", "", err
		}
	case ConstInvokeDynamic:
		// no class component
	default:
		return "", "", "", fmt.Errorf("classfile: constant %d is %d, not a member reference", index, c.Kind)
	}
	nt := cp.Get(c.Second)
	if nt.Kind != ConstNameAndType {
		return "", "", "", fmt.Errorf("classfile: constant %d: malformed name-and-type", index)
	}
	return class, cp.Get(nt.First).Str, cp.Get(nt.Second).Str, nil
}

// LoadableType returns the verification type of the loadable constant at
// index, as pushed by ldc/ldc_w/ldc2_w.
func (cp *ConstantPool) LoadableType(index uint16) (Type, error) {
	c, err := cp.lookup(index)
	if err != nil {
		return Type{}, err
	}
	switch c.Kind {
	case ConstInteger:
		return TypeInt, nil
	case ConstFloat:
		return TypeFloat, nil
	case ConstLong:
		return TypeLong, nil
	case ConstDouble:
		return TypeDouble, nil
	case ConstString:
		return TypeString, nil
	case ConstClass:
		return TypeClass, nil
	default:
		return Type{}, fmt.Errorf("classfile: constant %d (kind %d) is not loadable", index, c.Kind)
	}
}
