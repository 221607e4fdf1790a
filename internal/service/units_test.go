package service

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseMemoryMB(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "128", want: 128},
		{in: "512mb", want: 512},
		{in: "512MB", want: 512},
		{in: "1gb", want: 1024},
		{in: "2 GB", want: 2048},
		{in: "1.5gb", wantErr: true},
		{in: "512kb", wantErr: true},
		{in: "512m", wantErr: true},
		{in: "mb", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemoryMB(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeoutSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "30", want: 30},
		{in: "30s", want: 30},
		{in: "2m", want: 120},
		{in: "1.5m", wantErr: true},
		{in: "30ms", wantErr: true},
		{in: "10h", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimeoutSeconds(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestUnits_UnmarshalYAML(t *testing.T) {
	var v struct {
		Memory  MemorySize `yaml:"memory"`
		Timeout Timeout    `yaml:"timeout"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("memory: 1gb\ntimeout: 2m\n"), &v))
	require.Equal(t, MemorySize(1024), v.Memory)
	require.Equal(t, Timeout(120), v.Timeout)

	require.ErrorContains(t, yaml.Unmarshal([]byte("memory: 1.5gb\n"), &v), `invalid memory size "1.5gb"`)
	require.ErrorContains(t, yaml.Unmarshal([]byte("timeout: 30ms\n"), &v), `invalid timeout "30ms"`)
}
