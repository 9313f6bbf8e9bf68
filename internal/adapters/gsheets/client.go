package gsheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// Client реализует domain.SheetsAPI поверх Google Sheets API v4.
type Client struct {
	svc     *sheets.Service
	sheetID string
	log     zerolog.Logger
}

var _ domain.SheetsAPI = (*Client)(nil)

// New создаёт клиента таблицы. Без опций используется файл сервисного аккаунта.
func New(ctx context.Context, sheetID, credentialsFile string, log zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	if sheetID == "" {
		return nil, errors.New("не задан идентификатор таблицы")
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("клиент Google Sheets: %w", err)
	}
	return &Client{svc: svc, sheetID: sheetID, log: log}, nil
}

// SheetTitles возвращает названия листов.
func (c *Client) SheetTitles(ctx context.Context) ([]string, error) {
	start := time.Now()
	doc, err := c.svc.Spreadsheets.Get(c.sheetID).Fields("sheets.properties.title").Context(ctx).Do()
	metrics.ObserveNetworkRequest("gsheets", "spreadsheets_get", c.sheetID, start, err)
	if err != nil {
		return nil, mapError(err)
	}
	titles := make([]string, 0, len(doc.Sheets))
	for _, sheet := range doc.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	return titles, nil
}

// AddSheet создаёт лист.
func (c *Client) AddSheet(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	start := time.Now()
	_, err := c.svc.Spreadsheets.BatchUpdate(c.sheetID, req).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gsheets", "add_sheet", title, start, err)
	if err != nil {
		return mapError(err)
	}
	c.log.Info().Str("sheet", title).Msg("создан лист таблицы")
	return nil
}

// GetValues читает диапазон.
func (c *Client) GetValues(ctx context.Context, rng string) ([][]any, error) {
	start := time.Now()
	res, err := c.svc.Spreadsheets.Values.Get(c.sheetID, rng).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gsheets", "values_get", rng, start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return res.Values, nil
}

// UpdateValues перезаписывает диапазон как есть.
func (c *Client) UpdateValues(ctx context.Context, rng string, values [][]any) error {
	start := time.Now()
	_, err := c.svc.Spreadsheets.Values.Update(c.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	metrics.ObserveNetworkRequest("gsheets", "values_update", rng, start, err)
	return mapError(err)
}

// AppendValues дописывает строки после последней заполненной.
func (c *Client) AppendValues(ctx context.Context, rng string, values [][]any) error {
	start := time.Now()
	_, err := c.svc.Spreadsheets.Values.Append(c.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	metrics.ObserveNetworkRequest("gsheets", "values_append", rng, start, err)
	return mapError(err)
}

// mapError переводит ответы API в доменные ошибки.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	switch {
	case strings.Contains(msg, "Unable to parse range"):
		return fmt.Errorf("%w: %w", domain.ErrRemoteSheetMissing, err)
	case strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %w", domain.ErrSheetExists, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrUnclassifiedRemote, err)
	}
}
