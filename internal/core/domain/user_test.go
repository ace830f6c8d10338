package domain

import (
	"errors"
	"reflect"
	"testing"
)

func validRecord() *UserRecord {
	return &UserRecord{
		UID:            "u-123",
		APIKey:         "key-abc",
		AppName:        "[DEFAULT]",
		Email:          "ada@example.com",
		EmailVerified:  true,
		DisplayName:    "Ada",
		ProviderID:     "password",
		CreatedAt:      1700000000000,
		LastLoginAt:    1700000500000,
		RefreshToken:   "refresh",
		AccessToken:    "access",
		ExpirationTime: 1700003600000,
	}
}

func TestUserRecord_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  *UserRecord
	}{
		{"full record", validRecord()},
		{"minimal record", &UserRecord{UID: "u", APIKey: "k", AppName: "app"}},
		{"anonymous", &UserRecord{UID: "anon", APIKey: "k", AppName: "app", IsAnonymous: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.rec.ToJSON()
			if err != nil {
				t.Fatalf("ToJSON() error = %v", err)
			}
			got, err := UserRecordFromJSON(data)
			if err != nil {
				t.Fatalf("UserRecordFromJSON() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.rec) {
				t.Errorf("round trip = %+v, want %+v", got, tt.rec)
			}
		})
	}
}

func TestUserRecordFromJSON_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"string value", `"LOCAL"`},
		{"array", `[1,2]`},
		{"broken json", `{"uid":`},
		{"missing uid", `{"apiKey":"k","appName":"a"}`},
		{"missing app name", `{"uid":"u","apiKey":"k"}`},
		{"bad email", `{"uid":"u","apiKey":"k","appName":"a","email":"nope"}`},
		{"negative timestamp", `{"uid":"u","apiKey":"k","appName":"a","createdAt":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UserRecordFromJSON([]byte(tt.data))
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("UserRecordFromJSON(%q) error = %v, want ErrMalformedRecord", tt.data, err)
			}
		})
	}
}

func TestUserRecord_ToJSONRejectsInvalid(t *testing.T) {
	rec := &UserRecord{APIKey: "k", AppName: "a"}
	if _, err := rec.ToJSON(); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("ToJSON() error = %v, want ErrMalformedRecord", err)
	}
}

func TestUserRecord_Clone(t *testing.T) {
	orig := validRecord()
	cp := orig.Clone()
	cp.DisplayName = "changed"
	if orig.DisplayName != "Ada" {
		t.Error("Clone should not share state with the original")
	}
	var nilRec *UserRecord
	if nilRec.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestSameUser(t *testing.T) {
	a := &UserRecord{UID: "1"}
	b := &UserRecord{UID: "1", DisplayName: "other"}
	c := &UserRecord{UID: "2"}

	if !SameUser(a, b) {
		t.Error("same uid should be the same user")
	}
	if SameUser(a, c) {
		t.Error("different uid should differ")
	}
	if !SameUser(nil, nil) {
		t.Error("nil and nil should be the same")
	}
	if SameUser(a, nil) {
		t.Error("record and nil should differ")
	}
}
