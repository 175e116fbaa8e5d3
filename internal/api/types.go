package api

import "time"

// BookSnapshotDTO is the wire representation of one symbol's book view,
// sent to REST and websocket consumers alike.
type BookSnapshotDTO struct {
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Sequence  uint64      `json:"sequence"`
	Bids      []LevelDTO  `json:"bids"`
	Asks      []LevelDTO  `json:"asks"`
	Metrics   MetricsDTO  `json:"metrics"`
}

// LevelDTO is one (price, aggregated size) pair, rendered as floats for
// wire consumption — exact fixed-point equality no longer matters once a
// value leaves the book.
type LevelDTO struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MetricsDTO mirrors metrics.Snapshot for JSON consumers.
type MetricsDTO struct {
	Available       bool    `json:"available"`
	BestBid         float64 `json:"best_bid"`
	BestAsk         float64 `json:"best_ask"`
	Spread          float64 `json:"spread"`
	SpreadBps       float64 `json:"spread_bps"`
	Imbalance       float64 `json:"imbalance"`
	MarketPressure  float64 `json:"market_pressure"`
	VWAPBid         float64 `json:"vwap_bid"`
	VWAPAsk         float64 `json:"vwap_ask"`
	DepthHalfPctBid float64 `json:"depth_half_pct_bid"`
	DepthHalfPctAsk float64 `json:"depth_half_pct_ask"`
	Impact1Pct      float64 `json:"impact_1pct"`
}

// FeedStatusDTO summarizes the upstream feed session for the health
// endpoint.
type FeedStatusDTO struct {
	State         string `json:"state"`
	ParseErrors   int64  `json:"parse_errors"`
	DroppedFrames int64  `json:"dropped_frames"`
}
