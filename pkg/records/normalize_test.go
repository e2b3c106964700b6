package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123 Test Road", "123 test rd"},
		{"  123  TEST rd. ", "123 test rd"},
		{"4 North Main Street, Suite 200", "4 n main st ste 200"},
		{"10 O'Hare Avenue #5", "10 o hare ave 5"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAddress(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeAddress_EquivalentForms(t *testing.T) {
	assert.Equal(t, NormalizeAddress("123 Test Road"), NormalizeAddress("123 test rd."))
}

func TestNormalizePostalCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"80401", "80401"},
		{"2101", "02101"},
		{"02101-1234", "02101-1234"},
		{"021011234", "02101-1234"},
		{"2101-1234", "02101-1234"},
		{" k1a 0b1 ", "K1A0B1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePostalCode(tt.in), "input %q", tt.in)
	}
}
