// src/parsers/batchcsv/parser.go
package batchcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/username/transferbot/src/models"
	"github.com/username/transferbot/src/utils"
)

// BatchParser reads a transfers CSV into TransferRequests.
type BatchParser struct{}

// NewParser creates a new instance of the BatchParser.
func NewParser() *BatchParser {
	return &BatchParser{}
}

var destinationHeaders = map[string]bool{
	"destination": true, "destino": true, "cuenta": true, "cuenta_destino": true, "account": true,
}

var amountHeaders = map[string]bool{
	"amount": true, "monto": true, "importe": true, "valor": true,
}

// Parse reads a CSV with a header row and converts each row into a
// TransferRequest. The destination and amount columns are matched by name;
// any other column is carried along untouched in Extra. Rows that fail
// validation are skipped with a log line, matching how a half-broken export
// should degrade: the rest of the batch still runs.
func (p *BatchParser) Parse(file io.Reader) ([]models.TransferRequest, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields per record
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("batch parser: failed to read CSV header: %w", err)
	}

	destIdx, amountIdx := -1, -1
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if destIdx == -1 && destinationHeaders[key] {
			destIdx = i
		} else if amountIdx == -1 && amountHeaders[key] {
			amountIdx = i
		}
	}
	if destIdx == -1 || amountIdx == -1 {
		return nil, fmt.Errorf("batch parser: header must name a destination and an amount column, got %v", header)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("batch parser: failed to read all CSV records: %w", err)
	}

	var requests []models.TransferRequest
	seq := 0
	for rowNum, record := range records {
		if len(record) <= destIdx || len(record) <= amountIdx {
			log.Printf("Batch Parser: Skipping short row %d: %v", rowNum+2, record)
			continue
		}

		destination := strings.TrimSpace(record[destIdx])
		amountText := strings.TrimSpace(record[amountIdx])

		if destination == "" {
			log.Printf("Batch Parser: Skipping row %d: empty destination", rowNum+2)
			continue
		}

		amount, err := utils.ParseLocaleDecimal(amountText)
		if err != nil {
			log.Printf("Batch Parser: Skipping row %d: invalid amount %q: %v", rowNum+2, amountText, err)
			continue
		}
		if !amount.IsPositive() {
			log.Printf("Batch Parser: Skipping row %d: non-positive amount %q", rowNum+2, amountText)
			continue
		}

		var extra map[string]string
		for i, h := range header {
			if i == destIdx || i == amountIdx || i >= len(record) {
				continue
			}
			if v := strings.TrimSpace(record[i]); v != "" {
				if extra == nil {
					extra = make(map[string]string)
				}
				extra[strings.TrimSpace(h)] = v
			}
		}

		seq++
		requests = append(requests, models.TransferRequest{
			Sequence:    seq,
			Destination: destination,
			Amount:      amount,
			AmountText:  amountText,
			Extra:       extra,
		})
	}

	if len(requests) == 0 {
		return nil, fmt.Errorf("batch parser: no valid transfer rows found")
	}
	return requests, nil
}
