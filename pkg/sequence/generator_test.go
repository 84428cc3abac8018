package sequence

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var voucherCodePattern = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z0-9]{4}$`)

func TestFormatVoucherCodeShape(t *testing.T) {
	code := formatVoucherCode("ABCDEFGH", 1)
	require.Equal(t, "ABCD-EFGH-0001", code)
	require.Regexp(t, voucherCodePattern, code)
}

func TestFormatVoucherCodeKeepsWidthPastSequenceSpace(t *testing.T) {
	// Sequences at and beyond 36^4 must fold back into the 4-char group
	// instead of widening the code.
	for _, seq := range []int64{seqSpace - 1, seqSpace, seqSpace + 1, 10 * seqSpace} {
		code := formatVoucherCode("ABCDEFGH", seq)
		require.Len(t, code, 14)
		require.Regexp(t, voucherCodePattern, code)
	}

	require.Equal(t, formatVoucherCode("ABCDEFGH", 1), formatVoucherCode("ABCDEFGH", seqSpace+1))
}

func TestRandomAlphaNumericAlphabet(t *testing.T) {
	s, err := randomAlphaNumeric(32)
	require.NoError(t, err)
	require.Len(t, s, 32)
	require.NotContains(t, s, "O")
	require.NotContains(t, s, "0")
	require.NotContains(t, s, "I")
	require.NotContains(t, s, "1")
}
