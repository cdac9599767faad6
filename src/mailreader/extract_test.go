package mailreader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractLoginCode(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    string
		found   bool
	}{
		{
			name:  "anchored phrase in body",
			body:  "Estimado cliente, su código de inicio de sesión es: 482913. No lo comparta.",
			want:  "482913",
			found: true,
		},
		{
			name:    "anchored phrase in subject",
			subject: "Su codigo de inicio de sesion es 7731",
			body:    "ver asunto",
			want:    "7731",
			found:   true,
		},
		{
			name:  "phrase without accents",
			body:  "su codigo de inicio de sesion es - 55443322",
			want:  "55443322",
			found: true,
		},
		{
			name:  "digit fallback takes first run",
			body:  "ref 2024 amount 9931",
			want:  "2024",
			found: true,
		},
		{
			name:    "body checked before subject",
			subject: "aviso 1111",
			body:    "clave 2222",
			want:    "2222",
			found:   true,
		},
		{
			name:  "short runs ignored",
			body:  "op 12 de 999",
			found: false,
		},
		{
			name:  "nothing",
			body:  "sin novedades",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractLoginCode(tt.subject, tt.body)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTransferCode(t *testing.T) {
	got, ok := ExtractTransferCode("Se envía el código para confirmar la transferencia: 660214")
	assert.True(t, ok)
	assert.Equal(t, "660214", got)

	got, ok = ExtractTransferCode("Se envia el codigo para confirmar la transferencia - 4401")
	assert.True(t, ok)
	assert.Equal(t, "4401", got)

	got, ok = ExtractTransferCode("confirmación pendiente, código 998877")
	assert.True(t, ok)
	assert.Equal(t, "998877", got)

	_, ok = ExtractTransferCode("sin código aquí")
	assert.False(t, ok)
}

func TestTimeConsistent(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC)

	tests := []struct {
		name string
		msg  time.Time
		want bool
	}{
		{"same minute", time.Date(2026, 3, 10, 14, 30, 5, 0, time.UTC), true},
		{"previous minute", time.Date(2026, 3, 10, 14, 29, 59, 0, time.UTC), true},
		{"two minutes old", time.Date(2026, 3, 10, 14, 28, 0, 0, time.UTC), false},
		{"future minute", time.Date(2026, 3, 10, 14, 31, 0, 0, time.UTC), false},
		{"different hour", time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC), false},
		{"previous day same time", time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC), false},
		{"other zone same instant", time.Date(2026, 3, 10, 11, 30, 10, 0, time.FixedZone("ART", -3*3600)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeConsistent(tt.msg, now))
		})
	}
}
