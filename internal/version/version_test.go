package version

import "testing"

func TestIsCompatible(t *testing.T) {
	cases := []struct {
		name     string
		snapshot int
		engine   int
		want     bool
		wantErr  bool
	}{
		{"same schema", 2, 2, true, false},
		{"older snapshot", 1, 2, true, false},
		{"newer snapshot", 3, 2, false, false},
		{"invalid snapshot schema", 0, 2, false, true},
		{"invalid engine schema", 1, -1, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsCompatible(tc.snapshot, tc.engine)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}
