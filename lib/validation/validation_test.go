package validation

import "testing"

func TestValidateRating(t *testing.T) {
	tests := []struct {
		rating  float64
		wantErr bool
	}{
		{0.5, false},
		{10, false},
		{7.5, false},
		{0, true},
		{10.5, true},
		{-1, true},
	}
	for _, tt := range tests {
		err := ValidateRating(tt.rating)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRating(%f) error = %v, wantErr %v", tt.rating, err, tt.wantErr)
		}
	}
}

func TestValidateMediaType(t *testing.T) {
	if err := ValidateMediaType("movie"); err != nil {
		t.Errorf("ValidateMediaType(movie) error = %v", err)
	}
	if err := ValidateMediaType("tv"); err != nil {
		t.Errorf("ValidateMediaType(tv) error = %v", err)
	}
	if err := ValidateMediaType("anime"); err == nil {
		t.Error("ValidateMediaType(anime) = nil, want error")
	}
	if err := ValidateMediaType(""); err == nil {
		t.Error("ValidateMediaType(empty) = nil, want error")
	}
}

func TestValidateLimit(t *testing.T) {
	tests := []struct {
		limit   int
		wantErr bool
	}{
		{1, false},
		{100, false},
		{0, true},
		{101, true},
		{-5, true},
	}
	for _, tt := range tests {
		err := ValidateLimit(tt.limit)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateLimit(%d) error = %v, wantErr %v", tt.limit, err, tt.wantErr)
		}
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID("user_id", 1); err != nil {
		t.Errorf("ValidateID(1) error = %v", err)
	}
	if err := ValidateID("user_id", 0); err == nil {
		t.Error("ValidateID(0) = nil, want error")
	}
	if err := ValidateID("item_id", -3); err == nil {
		t.Error("ValidateID(-3) = nil, want error")
	}
}
