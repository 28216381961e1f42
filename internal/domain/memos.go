package domain

// Payment memos. Every outbound transfer is tagged with the reason it was
// issued; together with the payment rows themselves this is the audit trail
// that lets an operator reconstruct why every transfer happened.
const (
	MemoInitialCoins      = "Initial coins"
	MemoBonus             = "Bonus"
	MemoRefundSoldOut     = "Refund - Sold Out"
	MemoRefundUnderpaid   = "Refund - Underpayment"
	MemoRefundOverpaid    = "Refund - Overpayment"
	MemoRefundCancelled   = "Refund - Cancelled"
	MemoRefundUnsolicited = "Unsolicited payment refund"
	MemoItemPayment       = "Item payment"
	MemoCustomerPayment   = "Customer payment"
)
