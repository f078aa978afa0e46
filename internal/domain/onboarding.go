package domain

// ApproveTokensMetadata tags the approval submission so the relayer can tell
// it apart from other proxy transactions.
const ApproveTokensMetadata = "approve_tokens"

// ProxySignatureRequest submits the signed "create proxy" message.
type ProxySignatureRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// TradingAuthRequest exchanges a ClobAuth signature for trading credentials.
type TradingAuthRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	Nonce     int64  `json:"nonce"`
}

// ApprovalsRequest submits the signed approval batch for relaying through the
// user's proxy wallet.
type ApprovalsRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Data       string `json:"data"`
	Operation  uint8  `json:"operation"`
	Nonce      string `json:"nonce"`
	StructHash string `json:"struct_hash"`
	Signature  string `json:"signature"`
	Metadata   string `json:"metadata"`
}
