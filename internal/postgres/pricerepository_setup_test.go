// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"io"
	"log/slog"
	"testing"
)

func TestNewPriceRepository(t *testing.T) {
	discardLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name    string
		options []PriceRepositoryOption
		want    *PriceRepository
		wantErr bool
	}{
		{
			name:    "Create with default logger",
			options: []PriceRepositoryOption{},
			want: &PriceRepository{
				options: &priceRepositoryOptions{
					Logger: slog.Default(),
				},
			},
			wantErr: false,
		},
		{
			name:    "Create with custom logger",
			options: []PriceRepositoryOption{WithPriceRepositoryLogger(discardLogger)},
			want: &PriceRepository{
				options: &priceRepositoryOptions{
					Logger: discardLogger,
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPriceRepository(tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPriceRepository() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got.options.Logger != tt.want.options.Logger {
				t.Errorf("NewPriceRepository() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewPriceRepository_GlobalOptions(t *testing.T) {
	inputLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	GlobalPriceRepositoryOptions = []PriceRepositoryOption{
		WithPriceRepositoryLogger(inputLogger),
	}
	got1, _ := NewPriceRepository()
	if got1.options.Logger != inputLogger {
		t.Errorf("NewPriceRepository() = %v, want %v", got1, inputLogger)
	}

	GlobalPriceRepositoryOptions = []PriceRepositoryOption{}
	got2, _ := NewPriceRepository()
	if got2.options.Logger == inputLogger {
		t.Errorf("NewPriceRepository() = %v, want %v", got2, slog.Default())
	}
}
