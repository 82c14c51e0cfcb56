// Package transport defines the contract between the broker session and a
// brokerage connection. A Transport accepts requests from any goroutine and
// reports results by calling its Wrapper from exactly one goroutine, the one
// running Run.
package transport

import (
	"context"
	"errors"

	"quant/internal/domain"
)

// ErrNotConnected is returned by request methods before Connect succeeds.
var ErrNotConnected = errors.New("transport not connected")

// Error codes passed to Wrapper.Error.
const (
	CodeRequestFailed = 162
	CodeOrderRejected = 201
	CodeNotSupported  = 321
	CodeInfo          = 2104
)

// ScannerRequestID is the request id reported with errors for scanner
// parameter requests, which carry no id of their own.
const ScannerRequestID = -2

// Informational reports whether code describes a status message rather than
// a failed request.
func Informational(code int) bool {
	return code >= 2100 && code < 2200
}

// Transport is a brokerage connection.
type Transport interface {
	// Connect binds the callback receiver and opens the connection.
	Connect(ctx context.Context, w Wrapper) error
	// Run delivers callbacks until ctx is done or the connection drops. It
	// must report NextValidID once the connection is usable.
	Run(ctx context.Context) error
	Disconnect() error

	RequestHistoricalData(reqID int64, req domain.DataRequest) error
	RequestRealtimeBars(reqID int64, symbol string) error
	CancelRealtimeBars(reqID int64) error
	PlaceOrder(orderID int64, pos domain.Position) error
	CancelOrder(orderID int64) error
	RequestScannerParameters() error
}

// Wrapper receives callbacks. Implementations must return quickly.
type Wrapper interface {
	NextValidID(orderID int64)
	HistoricalData(reqID int64, bar domain.Bar)
	HistoricalDataEnd(reqID int64)
	RealtimeBar(reqID int64, bar domain.Bar)
	ScannerParameters(xml string)
	OrderStatus(orderID int64, status string, filled float64, avgFillPrice float64)
	Error(reqID int64, code int, msg string)
}
