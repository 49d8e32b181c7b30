package x402

// Protocol header names. PAYMENT-SIGNATURE and PAYMENT-RESPONSE are the
// V2 names; X-Payment-Required is the V1 requirements fallback read off
// 402 responses that lack a JSON body.
const (
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
	HeaderPaymentRequired  = "X-Payment-Required"
)
