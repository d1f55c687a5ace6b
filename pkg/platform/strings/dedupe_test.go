package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"empty stays empty", []string{}, []string{}},
		{"trims each element", []string{"  a ", "b  "}, []string{"a", "b"}},
		{"drops blanks", []string{"a", "", "   ", "b"}, []string{"a", "b"}},
		{"dedupes keeping first order", []string{"b", "a", "b", "a"}, []string{"b", "a"}},
		{"case sensitive", []string{"Host", "host"}, []string{"Host", "host"}},
		{"broker list", []string{" kafka-1:9092", "kafka-2:9092", "kafka-1:9092 ", ""}, []string{"kafka-1:9092", "kafka-2:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil stays nil", nil, nil},
		{"folds case before deduping", []string{"CPUs=8", "cpus=8", " CPUS=8 "}, []string{"cpus=8"}},
		{"result is lowercased", []string{" GPU=apple ", "ram=16"}, []string{"gpu=apple", "ram=16"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrimLower(tt.in))
		})
	}
}
