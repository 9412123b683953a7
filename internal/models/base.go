package models

// Variables represents a JSON object for storing arbitrary data
type Variables map[string]interface{}

// Clone returns a shallow copy so readers never share the writer's map
func (v Variables) Clone() Variables {
    if v == nil {
        return nil
    }
    out := make(Variables, len(v))
    for k, val := range v {
        out[k] = val
    }
    return out
}
