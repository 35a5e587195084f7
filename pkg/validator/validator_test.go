package validator

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	v := New()
	if v == nil {
		t.Fatal("expected validator to be created")
	}
	if v.validate == nil {
		t.Fatal("expected internal validator to be initialized")
	}
}

func TestValidate_FindingStatus(t *testing.T) {
	v := New()

	type TestStruct struct {
		Status string `validate:"required,finding_status"`
	}

	tests := []struct {
		name    string
		input   TestStruct
		wantErr bool
	}{
		{name: "display name", input: TestStruct{Status: "Accepted Risk"}},
		{name: "lower case", input: TestStruct{Status: "in progress"}},
		{name: "snake case", input: TestStruct{Status: "not_observed"}},
		{name: "unknown", input: TestStruct{Status: "Closed"}, wantErr: true},
		{name: "empty", input: TestStruct{Status: ""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ClosingStatus(t *testing.T) {
	v := New()

	type TestStruct struct {
		Status string `validate:"required,closing_status"`
	}

	for _, ok := range []string{"Mitigated", "Accepted Risk", "False Positive", "Not Observed"} {
		if err := v.Validate(TestStruct{Status: ok}); err != nil {
			t.Errorf("Validate(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"Open", "In Progress", "Waiting"} {
		if err := v.Validate(TestStruct{Status: bad}); err == nil {
			t.Errorf("Validate(%q) expected error", bad)
		}
	}
}

func TestValidate_HexColor(t *testing.T) {
	v := New()

	type Label struct {
		Color string `validate:"required,hexcolor8"`
	}

	for _, c := range []string{"#FF5733", "#ff5733aa"} {
		if err := v.Validate(Label{Color: c}); err != nil {
			t.Errorf("Validate(%q) unexpected error: %v", c, err)
		}
	}
	for _, c := range []string{"FF5733", "#FFF", "#FF5733A"} {
		if err := v.Validate(Label{Color: c}); err == nil {
			t.Errorf("Validate(%q) expected error", c)
		}
	}
}

func TestValidate_ErrorShape(t *testing.T) {
	v := New()

	type ChangeStatusInput struct {
		FindingID string `validate:"required,uuid"`
		Status    string `validate:"required,finding_status"`
		Comment   string `validate:"max=5000"`
	}

	err := v.Validate(ChangeStatusInput{FindingID: "nope", Status: "bogus"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(verrs), verrs)
	}
	if verrs[0].Field != "finding_id" {
		t.Errorf("unexpected field name %q", verrs[0].Field)
	}
	if verrs[0].Message != "must be a valid UUID" {
		t.Errorf("unexpected message %q", verrs[0].Message)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"FindingID":             "finding_id",
		"RelatedStatusChangeID": "related_status_change_id",
		"PerPage":               "per_page",
		"HTTPStatus":            "http_status",
		"name":                  "name",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
