package cashu

type PostSwapRequest struct {
	Inputs  Proofs          `json:"inputs"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures BlindSignatures `json:"signatures"`
}

type KeysetResponse struct {
	Id          KeysetId `json:"id"`
	Unit        string   `json:"unit"`
	Active      bool     `json:"active"`
	InputFeePpk uint     `json:"input_fee_ppk"`
}

type GetKeysetsResponse struct {
	Keysets []KeysetResponse `json:"keysets"`
}
