package fieldkind

import "testing"

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"BOOLEAN":                  Checkbox,
		"bool":                     Checkbox,
		"INTEGER":                  Number,
		"BigInt":                   Number,
		"NUMERIC(10, 2)":           Number,
		"DECIMAL":                  Number,
		"double precision":         Number,
		"FLOAT":                    Number,
		"DATETIME":                 Datetime,
		"DATE":                     Datetime,
		"TIMESTAMP WITH TIME ZONE": Datetime,
		"TEXT":                     Multiline,
		"text[]":                   Multiline,
		"VARCHAR(255)":             Text,
		"varchar_text":             Text,
		"UUID":                     Text,
		"":                         Text,
	}

	for label, expected := range tests {
		if got := Classify(label); got != expected {
			t.Fatalf("Classify(%q)=%s, expected %s", label, got, expected)
		}
	}
}

func TestClassifyPriority(t *testing.T) {
	// Labels matching several rules resolve by the fixed rule order.
	if got := Classify("boolean_int"); got != Checkbox {
		t.Fatalf("expected checkbox to win over number, got %s", got)
	}
	if got := Classify("interval_time"); got != Number {
		t.Fatalf("expected number to win over datetime, got %s", got)
	}
	if got := Classify("datetext"); got != Datetime {
		t.Fatalf("expected datetime to win over multiline text, got %s", got)
	}
}

func TestKindDefaultsAndNames(t *testing.T) {
	if Checkbox.Default() != false {
		t.Fatalf("checkbox default should be false")
	}
	for _, kind := range []Kind{Text, Number, Datetime, Multiline} {
		if kind.Default() != "" {
			t.Fatalf("%s default should be empty string", kind)
		}
	}
	if Multiline.String() != "multiline-text" {
		t.Fatalf("unexpected name %q", Multiline.String())
	}
	if Kind(99).String() != "text" {
		t.Fatalf("unknown kinds should render as text")
	}
}
