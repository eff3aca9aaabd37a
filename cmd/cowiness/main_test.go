package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"cowindex/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHash = "0x" + strings.Repeat("ab", 32)

type stubCalculator struct {
	err error
}

func (s stubCalculator) ComputeDetailed(ctx context.Context, txHash string) (domain.CowinessResult, error) {
	if s.err != nil {
		return domain.CowinessResult{}, s.err
	}
	return domain.CowinessResult{TxHash: txHash, CowValue: 0.5, TotalVolumeInUSD: decimal.NewFromInt(10)}, nil
}

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer

	_, _, err := parseArgs([]string{"0x1234", "-detailed"}, &stderr)
	assert.Error(t, err)

	txHash, detailed, err := parseArgs([]string{testHash, "-detailed"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, testHash, txHash)
	assert.True(t, detailed)

	txHash, detailed, err = parseArgs([]string{"-detailed", testHash}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, testHash, txHash)
	assert.True(t, detailed)

	_, detailed, err = parseArgs([]string{testHash}, &stderr)
	require.NoError(t, err)
	assert.False(t, detailed)

	_, _, err = parseArgs(nil, &stderr)
	assert.EqualError(t, err, "transaction hash is required")

	_, _, err = parseArgs([]string{testHash, "extra"}, &stderr)
	assert.Error(t, err)
}

func TestComputeSummaryOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := compute(context.Background(), stubCalculator{}, testHash, false, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"cowiness":0.5}`, stdout.String())
}

func TestComputeDetailedOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := compute(context.Background(), stubCalculator{}, testHash, true, &stdout, &stderr)
	require.Equal(t, 0, code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &body))
	assert.Equal(t, testHash, body["tx_hash"])
	assert.Equal(t, "10", body["total_volume_in_usd"])
}

func TestComputeFailureReportsClass(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := compute(context.Background(), stubCalculator{err: domain.ErrDivisionUndefined}, testHash, false, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.True(t, strings.HasPrefix(stderr.String(), "division_undefined: "))
}
