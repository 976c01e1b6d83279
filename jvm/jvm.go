// Package jvm provides conversions between the two string formats the JVM
// ecosystem uses for types: Java binary names ("java.lang.Object[]", "int")
// and JVM field descriptors ("[Ljava/lang/Object;", "I").
//
// All functions are pure and hold no state.
package jvm

import (
	"fmt"
	"strings"
)

// primitiveDescriptors maps Java primitive type names to their one-letter
// field descriptors.
var primitiveDescriptors = map[string]string{
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"double":  "D",
	"float":   "F",
	"int":     "I",
	"long":    "J",
	"short":   "S",
}

// primitiveNames is the inverse of primitiveDescriptors.
var primitiveNames = map[string]string{
	"Z": "boolean",
	"B": "byte",
	"C": "char",
	"D": "double",
	"F": "float",
	"I": "int",
	"J": "long",
	"S": "short",
}

// BinaryNameToFieldDescriptor converts a binary class name to a field
// descriptor. For example, "java.lang.Object[]" becomes
// "[Ljava/lang/Object;" and "int" becomes "I".
func BinaryNameToFieldDescriptor(name string) string {
	dims := 0
	base := name
	for strings.HasSuffix(base, "[]") {
		dims++
		base = base[:len(base)-2]
	}
	desc, ok := primitiveDescriptors[base]
	if !ok {
		desc = "L" + base + ";"
	}
	desc = strings.Repeat("[", dims) + desc
	return strings.ReplaceAll(desc, ".", "/")
}

// PrimitiveNameToDescriptor converts a primitive type name ("int", "double",
// ...) to its field descriptor ("I", "D", ...). Returns an error if the
// argument is not a primitive type name.
func PrimitiveNameToDescriptor(name string) (string, error) {
	desc, ok := primitiveDescriptors[name]
	if !ok {
		return "", fmt.Errorf("jvm: not the name of a primitive type: %q", name)
	}
	return desc, nil
}

// BinaryNameToClassGetName converts a binary name to the format returned by
// Java's Class.getName. The two formats differ only for array types, where
// getName uses descriptor form with dots ("[Ljava.lang.Object;").
func BinaryNameToClassGetName(name string) string {
	if strings.HasSuffix(name, "[]") {
		return strings.ReplaceAll(BinaryNameToFieldDescriptor(name), "/", ".")
	}
	return name
}

// FieldDescriptorToClassGetName converts a field descriptor to the format
// returned by Java's Class.getName.
func FieldDescriptorToClassGetName(desc string) (string, error) {
	if strings.HasPrefix(desc, "[") {
		return strings.ReplaceAll(desc, "/", "."), nil
	}
	return FieldDescriptorToBinaryName(desc)
}

// FieldDescriptorToBinaryName converts a field descriptor to a binary class
// name. For example, "[Ljava/lang/Object;" becomes "java.lang.Object[]" and
// "I" becomes "int". "V" (void) is not converted.
func FieldDescriptorToBinaryName(desc string) (string, error) {
	if desc == "" {
		return "", fmt.Errorf("jvm: empty field descriptor")
	}
	dims := 0
	base := desc
	for strings.HasPrefix(base, "[") {
		dims++
		base = base[1:]
	}
	var name string
	if strings.HasPrefix(base, "L") && strings.HasSuffix(base, ";") {
		name = base[1 : len(base)-1]
	} else {
		var ok bool
		name, ok = primitiveNames[base]
		if !ok {
			return "", fmt.Errorf("jvm: malformed base type in descriptor %q", desc)
		}
	}
	name += strings.Repeat("[]", dims)
	return strings.ReplaceAll(name, "/", "."), nil
}

// ArglistToJVM converts a fully-qualified argument list from Java format to
// JVM format. For example, "(java.lang.Integer[], int)" becomes
// "([Ljava/lang/Integer;I)".
func ArglistToJVM(arglist string) (string, error) {
	if !strings.HasPrefix(arglist, "(") || !strings.HasSuffix(arglist, ")") {
		return "", fmt.Errorf("jvm: malformed arglist: %q", arglist)
	}
	var sb strings.Builder
	sb.WriteByte('(')
	inner := arglist[1 : len(arglist)-1]
	for _, arg := range strings.Split(inner, ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		sb.WriteString(BinaryNameToFieldDescriptor(arg))
	}
	sb.WriteByte(')')
	return sb.String(), nil
}

// ArglistFromJVM converts an argument list from JVM format to Java format.
// For example, "([Ljava/lang/Integer;I)" becomes "(java.lang.Integer[], int)".
func ArglistFromJVM(arglist string) (string, error) {
	if !strings.HasPrefix(arglist, "(") || !strings.HasSuffix(arglist, ")") {
		return "", fmt.Errorf("jvm: malformed arglist: %q", arglist)
	}
	var sb strings.Builder
	sb.WriteByte('(')
	pos := 1
	first := true
	for pos < len(arglist)-1 {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		end := pos
		for end < len(arglist)-1 && arglist[end] == '[' {
			end++
		}
		if end >= len(arglist)-1 {
			return "", fmt.Errorf("jvm: malformed arglist: %q", arglist)
		}
		if arglist[end] == 'L' {
			semi := strings.IndexByte(arglist[end:], ';')
			if semi == -1 {
				return "", fmt.Errorf("jvm: malformed arglist: %q", arglist)
			}
			end += semi
		}
		name, err := FieldDescriptorToBinaryName(arglist[pos : end+1])
		if err != nil {
			return "", err
		}
		sb.WriteString(name)
		pos = end + 1
	}
	sb.WriteByte(')')
	return sb.String(), nil
}
