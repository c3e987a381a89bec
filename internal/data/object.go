// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package data defines the typed values that flow through pipeline channels.
//
// The set of value kinds is closed: Boolean, File, Float, Integer and String.
// Every kind knows its own Type and a content fingerprint, so callers never
// need to inspect a payload to work out what it is.
package data

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Type names the kind of value a channel carries.
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeFile    Type = "file"
	TypeFloat   Type = "float"
	TypeInteger Type = "integer"
	TypeString  Type = "string"
)

// ErrUnknownType is returned when a type name is not one of the known kinds.
var ErrUnknownType = errors.New("unknown data type")

// ErrInvalidValue is returned when a raw value cannot be converted to the requested type.
var ErrInvalidValue = errors.New("invalid data value")

// ParseType converts a type name into a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeBoolean, TypeFile, TypeFloat, TypeInteger, TypeString:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Object is a single immutable data value.
type Object interface {
	// Type reports the kind of the value.
	Type() Type
	// Value returns the underlying Go value.
	Value() any
	// String renders the value the way it is substituted into commands.
	String() string
	// Fingerprint is a stable content hash of the value.
	Fingerprint() string

	isObject()
}

// Boolean is a true/false value.
type Boolean bool

// Integer is a signed 64-bit integer value.
type Integer int64

// Float is a 64-bit floating point value.
type Float float64

// String is a text value.
type String string

// File references file content by name and content hash.
type File struct {
	Filename string `yaml:"filename" json:"filename"`
	MD5      string `yaml:"md5,omitempty" json:"md5,omitempty"`
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
}

func (Boolean) Type() Type { return TypeBoolean }
func (Integer) Type() Type { return TypeInteger }
func (Float) Type() Type   { return TypeFloat }
func (String) Type() Type  { return TypeString }
func (File) Type() Type    { return TypeFile }

func (b Boolean) Value() any { return bool(b) }
func (i Integer) Value() any { return int64(i) }
func (f Float) Value() any   { return float64(f) }
func (s String) Value() any  { return string(s) }
func (f File) Value() any    { return f }

func (b Boolean) String() string { return strconv.FormatBool(bool(b)) }
func (i Integer) String() string { return strconv.FormatInt(int64(i), 10) }
func (f Float) String() string   { return strconv.FormatFloat(float64(f), 'g', -1, 64) }
func (s String) String() string  { return string(s) }
func (f File) String() string    { return f.Filename }

func (b Boolean) Fingerprint() string { return hashScalar(TypeBoolean, b.String()) }
func (i Integer) Fingerprint() string { return hashScalar(TypeInteger, i.String()) }
func (f Float) Fingerprint() string   { return hashScalar(TypeFloat, f.String()) }
func (s String) Fingerprint() string  { return hashScalar(TypeString, string(s)) }

// Fingerprint of a file is its content hash when known. Files without a
// recorded hash fall back to their name and location.
func (f File) Fingerprint() string {
	if f.MD5 != "" {
		return hashScalar(TypeFile, "md5:"+f.MD5)
	}
	return hashScalar(TypeFile, "name:"+f.Filename+"\x00"+f.URL)
}

func (Boolean) isObject() {}
func (Integer) isObject() {}
func (Float) isObject()   {}
func (String) isObject()  {}
func (File) isObject()    {}

func hashScalar(t Type, rendered string) string {
	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(rendered))
	return hex.EncodeToString(h.Sum(nil))
}
