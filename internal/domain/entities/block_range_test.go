package entities

import (
	"testing"
)

func TestNewBlockRange(t *testing.T) {
	r, err := NewBlockRange(100, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.From != 100 || r.To != 200 {
		t.Errorf("range = %v", r)
	}

	if _, err := NewBlockRange(200, 100); err == nil {
		t.Error("expected error for inverted bounds")
	}
}

func TestBlockRange_Blocks(t *testing.T) {
	tests := []struct {
		r    BlockRange
		want uint64
	}{
		{BlockRange{From: 0, To: 0}, 1},
		{BlockRange{From: 100, To: 199}, 100},
		{BlockRange{From: 5, To: 10}, 6},
	}
	for _, tt := range tests {
		if got := tt.r.Blocks(); got != tt.want {
			t.Errorf("%v.Blocks() = %d, want %d", tt.r, got, tt.want)
		}
	}
}

func TestBlockRange_Split(t *testing.T) {
	tests := []struct {
		name    string
		r       BlockRange
		maxSize uint64
		want    []BlockRange
	}{
		{
			name:    "even split",
			r:       BlockRange{From: 0, To: 399},
			maxSize: 200,
			want:    []BlockRange{{0, 199}, {200, 399}},
		},
		{
			name:    "uneven tail",
			r:       BlockRange{From: 100, To: 1099},
			maxSize: 300,
			want:    []BlockRange{{100, 399}, {400, 699}, {700, 999}, {1000, 1099}},
		},
		{
			name:    "smaller than chunk",
			r:       BlockRange{From: 10, To: 20},
			maxSize: 1000,
			want:    []BlockRange{{10, 20}},
		},
		{
			name:    "single block chunks",
			r:       BlockRange{From: 0, To: 2},
			maxSize: 1,
			want:    []BlockRange{{0, 0}, {1, 1}, {2, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Split(tt.maxSize)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBlockRange_String(t *testing.T) {
	r := BlockRange{From: 100, To: 200}
	if r.String() != "100-200" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestParseBlockNumber(t *testing.T) {
	latest, err := ParseBlockNumber("latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !latest.IsLatest() {
		t.Error("expected latest")
	}

	n, err := ParseBlockNumber("12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.IsLatest() || n.Value() != 12345 {
		t.Errorf("parsed = %v", n)
	}

	if _, err := ParseBlockNumber("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestRangeSet_AddMerges(t *testing.T) {
	tests := []struct {
		name string
		add  []BlockRange
		want []BlockRange
	}{
		{
			name: "disjoint stay apart",
			add:  []BlockRange{{0, 9}, {20, 29}},
			want: []BlockRange{{0, 9}, {20, 29}},
		},
		{
			name: "adjacent merge",
			add:  []BlockRange{{0, 9}, {10, 19}},
			want: []BlockRange{{0, 19}},
		},
		{
			name: "overlapping merge",
			add:  []BlockRange{{0, 15}, {10, 29}},
			want: []BlockRange{{0, 29}},
		},
		{
			name: "out of order insert",
			add:  []BlockRange{{20, 29}, {0, 9}, {10, 19}},
			want: []BlockRange{{0, 29}},
		},
		{
			name: "contained range absorbed",
			add:  []BlockRange{{0, 100}, {10, 20}},
			want: []BlockRange{{0, 100}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRangeSet(tt.add...)
			got := s.Ranges()
			if len(got) != len(tt.want) {
				t.Fatalf("ranges = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ranges[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRangeSet_Residual(t *testing.T) {
	full := BlockRange{From: 0, To: 999}

	tests := []struct {
		name      string
		completed []BlockRange
		want      []BlockRange
	}{
		{
			name: "empty set leaves everything",
			want: []BlockRange{full},
		},
		{
			name:      "full coverage leaves nothing",
			completed: []BlockRange{{0, 999}},
			want:      nil,
		},
		{
			name:      "gap in the middle",
			completed: []BlockRange{{0, 99}, {500, 999}},
			want:      []BlockRange{{100, 499}},
		},
		{
			name:      "uncovered head and tail",
			completed: []BlockRange{{200, 799}},
			want:      []BlockRange{{0, 199}, {800, 999}},
		},
		{
			name:      "coverage outside the window ignored",
			completed: []BlockRange{{2000, 3000}},
			want:      []BlockRange{full},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRangeSet(tt.completed...)
			got := s.Residual(full)
			if len(got) != len(tt.want) {
				t.Fatalf("residual = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("residual[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRangeSet_Covers(t *testing.T) {
	s := NewRangeSet(BlockRange{From: 0, To: 499}, BlockRange{From: 500, To: 999})
	if !s.Covers(BlockRange{From: 0, To: 999}) {
		t.Error("merged adjacent ranges should cover the union")
	}
	if s.Covers(BlockRange{From: 0, To: 1000}) {
		t.Error("set should not cover past its end")
	}
}
