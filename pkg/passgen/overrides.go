package passgen

import (
	"encoding/json"
	"fmt"
	"time"
)

// validator accepts or rejects a candidate override value. A nil
// validator means the key is accepted whenever it is present and truthy.
type validator func(interface{}) bool

// overrideValidators is the closed allow-list of descriptor keys a
// request may override. Anything not in this table is silently dropped,
// which is the safety boundary keeping unsupported fields out of the
// descriptor.
var overrideValidators = map[string]validator{
	"serialNumber":        nil,
	"userInfo":            nil,
	"expirationDate":      isW3CDate,
	"locations":           isLocationList,
	"authenticationToken": isAuthToken,
	"barcode":             isBarcode,
}

// FilterOverrides keeps only recognized keys whose values pass their
// validator. Values are passed through unmodified; no coercion happens
// here.
func FilterOverrides(candidates map[string]interface{}) map[string]interface{} {
	accepted := make(map[string]interface{})
	for key, check := range overrideValidators {
		value, ok := candidates[key]
		if !ok || !isTruthy(value) {
			continue
		}
		if check != nil && !check(value) {
			continue
		}
		accepted[key] = value
	}
	return accepted
}

// MergeDescriptor applies accepted overrides on top of the model's base
// descriptor. With no overrides the base bytes come back unchanged.
// Overrides are assigned at the top level only; an override key replaces
// the base key wholesale, everything else in the base is preserved.
func MergeDescriptor(base []byte, overrides map[string]interface{}) ([]byte, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("%s buffer is not valid: %w", DescriptorFile, err)
	}
	for key, value := range overrides {
		doc[key] = value
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize merged %s: %w", DescriptorFile, err)
	}
	return merged, nil
}

func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		return true
	}
}

// isW3CDate accepts RFC 3339 timestamps, the format wallet clients
// expect for expirationDate.
func isW3CDate(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// isLocationList accepts a non-empty list of objects each carrying at
// least latitude and longitude.
func isLocationList(v interface{}) bool {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return false
	}
	for _, item := range list {
		loc, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		if _, ok := loc["latitude"]; !ok {
			return false
		}
		if _, ok := loc["longitude"]; !ok {
			return false
		}
	}
	return true
}

// isAuthToken requires the 16-character minimum wallet clients enforce.
func isAuthToken(v interface{}) bool {
	s, ok := v.(string)
	return ok && len(s) >= 16
}

// isBarcode requires the two fields without which a barcode does not
// render: message and format.
func isBarcode(v interface{}) bool {
	barcode, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	msg, ok := barcode["message"].(string)
	if !ok || msg == "" {
		return false
	}
	format, ok := barcode["format"].(string)
	return ok && format != ""
}
