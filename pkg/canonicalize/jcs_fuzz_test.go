package canonicalize

import (
	"encoding/json"
	"testing"
)

func FuzzJCS_Idempotent(f *testing.F) {
	f.Add([]byte(`{"dna_hash":"ab","entropy_score":0.75,"vector_count":3}`))
	f.Add([]byte(`{"metadata":{"sample_count":8,"behavior_types":["keystroke","api_call"]},"is_valid":true}`))
	f.Add([]byte(`{"reason":"<quarantine> & review","score":1e-7}`))
	f.Add([]byte(`{"entity":"ユーザー","note":"🚀","empty":""}`))
	f.Add([]byte(`[3,1,2,null,{"b":1,"a":2}]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip()
		}
		first, err := JCS(v)
		if err != nil {
			return
		}

		var reparsed any
		if err := json.Unmarshal(first, &reparsed); err != nil {
			t.Fatalf("canonical output does not parse: %s", first)
		}
		second, err := JCS(reparsed)
		if err != nil {
			t.Fatalf("canonical output rejected on second pass: %v", err)
		}
		if string(first) != string(second) {
			t.Errorf("not idempotent:\n  %s\n  %s", first, second)
		}
		if HashBytes(first) != HashBytes(second) {
			t.Error("hash differs across passes")
		}
	})
}
