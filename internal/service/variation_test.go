package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matt-riley/flagchain/internal/core"
)

func variationFlag() core.FeatureFlag {
	return core.FeatureFlag{
		Key:              "checkout",
		Status:           core.StatusUserTargeted,
		DefaultVariation: "control",
		Variations: map[string]core.Value{
			"control": core.String("7"),
			"numeric": core.String("123"),
			"broken":  core.String("12abc"),
			"theme": core.Document(map[string]core.Value{
				"color": core.String("teal"),
				"sizes": core.List(core.Int(1), core.Int(2)),
			}),
		},
		TargetingRules: []core.TargetingRule{
			{Attribute: "want", Operator: core.OperatorEquals, Values: []string{"numeric"}, Variation: "numeric"},
			{Attribute: "want", Operator: core.OperatorEquals, Values: []string{"broken"}, Variation: "broken"},
			{Attribute: "want", Operator: core.OperatorEquals, Values: []string{"theme"}, Variation: "theme"},
			{Attribute: "want", Operator: core.OperatorEquals, Values: []string{"bare"}, Variation: "beta-copy"},
		},
	}
}

func wanting(variation string) core.EvaluationContext {
	return core.NewEvaluationContext("", "", map[string]any{"want": variation})
}

func TestGetVariationCoercesStringToInt(t *testing.T) {
	evaluator, _ := New(newFakeRepository(variationFlag()))
	ctx := context.Background()

	if got := GetVariation(ctx, evaluator, "checkout", 0, wanting("numeric")); got != 123 {
		t.Fatalf("GetVariation[int](numeric) = %d, want 123", got)
	}
	if got := GetVariation(ctx, evaluator, "checkout", 0, wanting("broken")); got != 0 {
		t.Fatalf("GetVariation[int](broken) = %d, want default 0", got)
	}
	if got := GetVariation(ctx, evaluator, "checkout", "fallback", wanting("numeric")); got != "123" {
		t.Fatalf("GetVariation[string](numeric) = %q, want 123", got)
	}
}

func TestGetVariationDisabledReturnsDefault(t *testing.T) {
	evaluator, _ := New(newFakeRepository(variationFlag()))

	// No rule matches: disabled with the "control" variation, whose payload is
	// ignored in favor of the caller default.
	if got := GetVariation(context.Background(), evaluator, "checkout", 42, wanting("nothing")); got != 42 {
		t.Fatalf("GetVariation() = %d, want default 42", got)
	}

	if got := GetVariation(context.Background(), evaluator, "missing", true, core.EvaluationContext{}); !got {
		t.Fatal("GetVariation(missing) = false, want default true")
	}
}

func TestGetVariationStructural(t *testing.T) {
	evaluator, _ := New(newFakeRepository(variationFlag()))

	type theme struct {
		Color string `json:"color"`
		Sizes []int  `json:"sizes"`
	}
	got := GetVariation(context.Background(), evaluator, "checkout", theme{Color: "default"}, wanting("theme"))
	if diff := cmp.Diff(theme{Color: "teal", Sizes: []int{1, 2}}, got); diff != "" {
		t.Fatalf("GetVariation[theme]() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetVariationWithoutPayloadUsesName(t *testing.T) {
	evaluator, _ := New(newFakeRepository(variationFlag()))

	if got := GetVariation(context.Background(), evaluator, "checkout", "", wanting("bare")); got != "beta-copy" {
		t.Fatalf("GetVariation[string](bare) = %q, want beta-copy", got)
	}
	if got := GetVariation(context.Background(), evaluator, "checkout", 5, wanting("bare")); got != 5 {
		t.Fatalf("GetVariation[int](bare) = %d, want default 5", got)
	}
}

func TestGetVariationEnabledFlagOnPayload(t *testing.T) {
	flag := core.DefaultFlag("toggle")
	flag.Status = core.StatusEnabled
	evaluator, _ := New(newFakeRepository(flag))

	if got := GetVariation(context.Background(), evaluator, "toggle", false, core.EvaluationContext{}); !got {
		t.Fatal("GetVariation[bool](enabled) = false, want on payload true")
	}
}

func TestGetVariationNilEvaluator(t *testing.T) {
	if got := GetVariation[int](context.Background(), nil, "k", 9, core.EvaluationContext{}); got != 9 {
		t.Fatalf("GetVariation(nil) = %d, want 9", got)
	}
}

func TestClient(t *testing.T) {
	flag := variationFlag()
	flag.EnabledUsers = []string{"vip"}
	flag.Variations["on"] = core.String("gold")
	evaluator, _ := New(newFakeRepository(flag))
	client := NewClient(evaluator)
	ctx := context.Background()

	if !client.IsEnabled(ctx, "checkout", "", "vip", nil) {
		t.Fatal("IsEnabled(vip) = false")
	}
	if client.IsEnabled(ctx, "checkout", "", "someone", nil) {
		t.Fatal("IsEnabled(someone) = true")
	}

	result := client.Evaluate(ctx, "checkout", "", "someone", map[string]any{"want": "theme"})
	if !result.Enabled || result.Variation != "theme" {
		t.Fatalf("Evaluate() = %+v", result)
	}

	if got := client.GetStringVariation(ctx, "checkout", "none", "", "vip", nil); got != "gold" {
		t.Fatalf("GetStringVariation() = %q, want gold", got)
	}
	if got := client.GetBoolVariation(ctx, "checkout", true, "", "nobody", nil); !got {
		t.Fatal("GetBoolVariation() = false, want default true")
	}
	if got := Variation(ctx, client, "checkout", 0, "", "", map[string]any{"want": "numeric"}); got != 123 {
		t.Fatalf("Variation[int]() = %d, want 123", got)
	}
	if got := Variation[string](ctx, nil, "checkout", "d", "", "", nil); got != "d" {
		t.Fatalf("Variation(nil client) = %q, want d", got)
	}
}

func TestResolveVariation(t *testing.T) {
	evaluator, _ := New(newFakeRepository(variationFlag()))
	ctx := context.Background()

	tests := []struct {
		name string
		want string
		def  core.Value
		out  core.Value
	}{
		{name: "raw payload", want: "numeric", def: core.Null(), out: core.String("123")},
		{name: "coerced to number", want: "numeric", def: core.Int(0), out: core.Int(123)},
		{name: "failed coercion", want: "broken", def: core.Int(-1), out: core.Int(-1)},
		{name: "disabled", want: "nothing", def: core.Bool(true), out: core.Bool(true)},
		{name: "same kind", want: "numeric", def: core.String("x"), out: core.String("123")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluator.ResolveVariation(ctx, "checkout", tt.def, wanting(tt.want))
			if diff := cmp.Diff(tt.out, got, valueComparer); diff != "" {
				t.Fatalf("ResolveVariation() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

var valueComparer = cmp.Comparer(func(a, b core.Value) bool {
	left, _ := json.Marshal(a)
	right, _ := json.Marshal(b)
	return string(left) == string(right)
})
