package models

// Amounts on the wire are base units; one unit is 1e9 base units.

type OperatingStatusRequest struct {
	Operational *bool `json:"operational" validate:"required"`
}

type RegisterAirlineRequest struct {
	Airline string `json:"airline" validate:"required,max=128"`
	Name    string `json:"name" validate:"max=128"`
}

type FundRequest struct {
	Amount int64 `json:"amount"`
}

type RegisterFlightRequest struct {
	Flight    string `json:"flight" validate:"required,max=64"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}

type BuyRequest struct {
	Amount int64 `json:"amount"`
}

type RegisterOracleRequest struct {
	Fee int64 `json:"fee"`
}

// OracleResponseRequest is an oracle's report for an open status request.
type OracleResponseRequest struct {
	Index      uint8  `json:"index"`
	Airline    string `json:"airline" validate:"required,max=128"`
	Flight     string `json:"flight" validate:"required,max=64"`
	Timestamp  int64  `json:"timestamp" validate:"required"`
	StatusCode uint8  `json:"status_code" validate:"required"`
}

type StatusResponse struct {
	Operational bool `json:"operational"`
}

type FlagResponse struct {
	Value bool `json:"value"`
}

type AmountResponse struct {
	Amount  int64  `json:"amount"`
	Display string `json:"display"`
}

type ConsortiumResponse struct {
	Registered int    `json:"registered"`
	TotalFund  int64  `json:"total_fund"`
	Display    string `json:"display"`
}

type IndexesResponse struct {
	Oracle  string `json:"oracle"`
	Indexes []int  `json:"indexes"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
