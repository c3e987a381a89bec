// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package data

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse converts a raw value, as decoded from YAML or read from a command's
// output, into an Object of type t.
func Parse(t Type, raw any) (Object, error) {
	switch t {
	case TypeBoolean:
		return parseBoolean(raw)
	case TypeInteger:
		return parseInteger(raw)
	case TypeFloat:
		return parseFloat(raw)
	case TypeString:
		return parseString(raw)
	case TypeFile:
		return parseFile(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func parseBoolean(raw any) (Object, error) {
	switch v := raw.(type) {
	case bool:
		return Boolean(v), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, invalid(TypeBoolean, raw)
		}
		return Boolean(b), nil
	}
	return nil, invalid(TypeBoolean, raw)
}

func parseInteger(raw any) (Object, error) {
	switch v := raw.(type) {
	case int:
		return Integer(v), nil
	case int64:
		return Integer(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, invalid(TypeInteger, raw)
		}
		return Integer(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, invalid(TypeInteger, raw)
		}
		return Integer(int64(v)), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, invalid(TypeInteger, raw)
		}
		return Integer(i), nil
	}
	return nil, invalid(TypeInteger, raw)
}

func parseFloat(raw any) (Object, error) {
	switch v := raw.(type) {
	case float64:
		return Float(v), nil
	case int:
		return Float(float64(v)), nil
	case int64:
		return Float(float64(v)), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, invalid(TypeFloat, raw)
		}
		return Float(f), nil
	}
	return nil, invalid(TypeFloat, raw)
}

func parseString(raw any) (Object, error) {
	switch v := raw.(type) {
	case string:
		return String(v), nil
	case bool, int, int64, float64:
		return String(fmt.Sprint(v)), nil
	}
	return nil, invalid(TypeString, raw)
}

func parseFile(raw any) (Object, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, invalid(TypeFile, raw)
		}
		return File{Filename: v}, nil
	case File:
		return v, nil
	case map[string]any:
		name, _ := v["filename"].(string)
		if name == "" {
			return nil, invalid(TypeFile, raw)
		}
		md5, _ := v["md5"].(string)
		url, _ := v["url"].(string)
		return File{Filename: name, MD5: md5, URL: url}, nil
	}
	return nil, invalid(TypeFile, raw)
}

func invalid(t Type, raw any) error {
	return fmt.Errorf("%w: cannot use %v (%T) as %s", ErrInvalidValue, raw, raw, t)
}
