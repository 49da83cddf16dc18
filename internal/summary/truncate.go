package summary

// rawField is one long-form raw_data array and the flag set when it is clipped.
type rawField struct {
	path []string
	flag string
}

var rawFields = []rawField{
	{path: []string{"scan"}, flag: "truncatedScan"},
	{path: []string{"web", "paths"}, flag: "truncatedPaths"},
	{path: []string{"web", "useragents"}, flag: "truncatedUserAgents"},
	{path: []string{"ja3"}, flag: "truncatedJa3"},
	{path: []string{"hassh"}, flag: "truncatedHassh"},
}

// truncateRawData clips raw_data arrays to RawDataLimit elements. raw_data
// sits at the top level for v2 payloads and under
// internet_scanner_intelligence for v3.
func truncateRawData(details map[string]any) {
	containers := []map[string]any{asObject(details["raw_data"])}
	if isi := asObject(details["internet_scanner_intelligence"]); isi != nil {
		containers = append(containers, asObject(isi["raw_data"]))
	}

	for _, raw := range containers {
		if raw == nil {
			continue
		}
		for _, f := range rawFields {
			if clip(raw, f.path) {
				details[f.flag] = true
			}
		}
	}
}

// clip truncates the array at path inside obj and reports whether it did.
func clip(obj map[string]any, path []string) bool {
	parent := obj
	for _, key := range path[:len(path)-1] {
		parent = asObject(parent[key])
		if parent == nil {
			return false
		}
	}

	last := path[len(path)-1]
	arr, ok := parent[last].([]any)
	if !ok || len(arr) <= RawDataLimit {
		return false
	}
	parent[last] = arr[:RawDataLimit]
	return true
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
