package batchcsv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchCSV(t *testing.T) {
	input := strings.Join([]string{
		"cliente,destino,monto,nota",
		`Perez,1001234567,"1.500,00",`,
		`Gomez,1009876543,"2000,50",urgente`,
		",1007777777,abc,monto roto",
		",1005555555,100,sin cliente",
	}, "\n")

	p := NewParser()
	requests, err := p.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, requests, 3)

	assert.Equal(t, 1, requests[0].Sequence)
	assert.Equal(t, "1001234567", requests[0].Destination)
	assert.Equal(t, "1.500,00", requests[0].AmountText)
	assert.Equal(t, "1500", requests[0].Amount.String())
	assert.Equal(t, "Perez", requests[0].Extra["cliente"])

	assert.Equal(t, 2, requests[1].Sequence)
	assert.Equal(t, "2000.5", requests[1].Amount.String())
	assert.Equal(t, "urgente", requests[1].Extra["nota"])

	// The broken-amount row is skipped; numbering stays dense.
	assert.Equal(t, 3, requests[2].Sequence)
	assert.Equal(t, "1005555555", requests[2].Destination)
	assert.Empty(t, requests[2].Extra["cliente"])
}

func TestParseBatchCSVHeaderAliases(t *testing.T) {
	input := "destination,amount\n2002003001,750.25\n"

	requests, err := NewParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "2002003001", requests[0].Destination)
	assert.Equal(t, "750.25", requests[0].Amount.String())
}

func TestParseBatchCSVRejectsMissingColumns(t *testing.T) {
	_, err := NewParser().Parse(strings.NewReader("a,b\n1,2\n"))
	assert.Error(t, err)
}

func TestParseBatchCSVRejectsAllInvalidRows(t *testing.T) {
	input := strings.Join([]string{
		"destino,monto",
		",100",
		"1001234567,-5",
		"1001234567,cero",
	}, "\n")

	_, err := NewParser().Parse(strings.NewReader(input))
	assert.Error(t, err)
}
