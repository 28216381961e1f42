/**
 * @description
 * Chat copy used by the drop bot. All customer-facing strings live here so the
 * tone can be reviewed in one place; amount placeholders are filled with
 * whole-coin decimal renderings of picocoin values.
 */

package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const picosPerCoin = 1_000_000_000_000

// formatCoins renders a picocoin amount as a trimmed decimal coin value,
// e.g. 1250000000000 -> "1.25".
func formatCoins(picos int64) string {
	return decimal.NewFromInt(picos).
		Div(decimal.NewFromInt(picosPerCoin)).
		String()
}

const (
	copyGenericError = "Sorry, something went wrong on our end. Please try again in a little while."

	copyTransactionFailed = "It looks like that transaction didn't go through on the network. Nothing was charged - please try sending again."

	copyEnablePayments = "To receive coins you need payments enabled in your chat app. Open Settings > Payments, activate your wallet, then message us again."

	copyUnsolicitedRefunded = "We weren't expecting a payment from you right now, so we've sent it back (minus the network fee). Say \"hi\" to join a drop!"
	copyUnsolicitedDust     = "We weren't expecting a payment from you, and this one is too small to refund without the network fee eating it. Sorry about that!"

	copyRefundNotPossible = "Your payment was smaller than the network fee, so there's nothing we can send back. Sorry!"

	copyStoreClosed = "There's no drop running right now. Follow our announcements to catch the next one!"

	copyRegionNotSupported = "Sorry, this drop isn't available in your region yet."
	copyAlreadyJoined      = "You've already taken part in this drop - one per customer. See you at the next one!"

	copySessionCancelled = "No problem, we've cancelled that for you. Message us again any time."
	copyRefundIssued     = "Done - we've sent your coins back. Hope to see you at the next drop!"

	copyAirdropSoldOut   = "Ahh, we just ran out! We've refunded what you sent. Follow our announcements for the next drop."
	copyAirdropExhausted = "This drop is fully claimed. Follow our announcements for the next one!"

	copyAllowContact = "One last thing - can we message you when future drops go live? (yes/no)"
	copyContactYes   = "Great, we'll let you know about future drops. Thanks for joining!"
	copyContactNo    = "Understood, we won't reach out. Thanks for joining!"

	copyNotUnderstood = "Sorry, I didn't catch that. Reply \"help\" to see what you can say."

	copyPrivacy = "We store your number, your messages to this bot, and payment records needed to run the drop. " +
		"Shipping details are kept only until your order ships. We never sell or share your data. " +
		"Reply \"cancel\" any time to stop."
)

// help copy is contextual: the floor is a generic summary, and sessions in
// specific states get a pointer to the next expected reply.
const (
	copyHelpGeneric  = "This is the drop bot. Say \"hi\" to join the current drop, \"privacy\" for our data policy, or \"cancel\" to stop."
	copyHelpPayment  = "We're waiting on your payment to continue. Send it through the chat app's payment feature, or reply \"cancel\" to stop."
	copyHelpSize     = "Reply with the size you'd like from the list above, or \"cancel\" for a refund."
	copyHelpName     = "Reply with the full name for your shipping label, or \"cancel\" for a refund."
	copyHelpAddress  = "Reply with your full shipping address, or \"cancel\" for a refund."
	copyHelpConfirm  = "Reply \"yes\" if the shipping details look right, \"no\" to re-enter them, or \"cancel\" for a refund."
	copyHelpContact  = "Reply \"yes\" or \"no\" - can we message you about future drops?"
	copyHelpIdle     = "Your drop session is paused. Say anything to pick up where you left off, or \"cancel\" to stop."
	copyHelpComplete = "You're all set for this drop! Follow our announcements for the next one."
)

func copyAirdropGreeting(amount int64) string {
	return fmt.Sprintf(
		"Welcome to the drop! We'll send you %s coins to get started, and if you send a little back you'll get a bonus on top. Want in? (yes/no)",
		formatCoins(amount))
}

func copyAirdropInitialSent(amount int64) string {
	return fmt.Sprintf(
		"We've just sent you %s coins - check your payments tab! Send any amount back and we'll return it with a bonus.",
		formatCoins(amount))
}

func copyAirdropBonusSent(paid, bonus int64) string {
	return fmt.Sprintf(
		"Nice! We've sent back your %s coins plus a %s coin bonus. Enjoy!",
		formatCoins(paid), formatCoins(bonus))
}

func copyItemGreeting(itemName string, price int64) string {
	return fmt.Sprintf(
		"Welcome to the drop! Today we have: %s for %s coins. Send the payment through the chat app to claim yours, or reply \"cancel\".",
		itemName, formatCoins(price))
}

func copyItemPaymentReceived(sizes []string) string {
	return fmt.Sprintf(
		"Payment received! Which size would you like? Available: %s",
		strings.Join(sizes, ", "))
}

func copySizeUnavailable(sizes []string) string {
	if len(sizes) == 0 {
		return "Ahh, we just sold out of every size. Reply \"refund\" to get your coins back."
	}
	return fmt.Sprintf(
		"Sorry, that size just sold out. Still available: %s. Pick another, or reply \"refund\".",
		strings.Join(sizes, ", "))
}

func copyUnderpaid(paid, expected int64) string {
	return fmt.Sprintf(
		"You sent %s coins but the item costs %s. We've refunded what you sent - send the full amount to claim one.",
		formatCoins(paid), formatCoins(expected))
}

func copyOverpaid(refunded int64) string {
	return fmt.Sprintf(
		"You sent a bit more than needed, so we've returned the extra %s coins. Now, let's get your order going!",
		formatCoins(refunded))
}

func copyAskName() string {
	return "Great choice! What's the full name we should put on the shipping label?"
}

func copyAskAddress(name string) string {
	return fmt.Sprintf("Thanks %s! And what's your full shipping address?", name)
}

func copyAddressNotFound() string {
	return "Hmm, we couldn't find that address. Could you try again with street, city, and postcode?"
}

func copyAddressWrongCountry() string {
	return "Sorry, we can only ship within the drop's region. If the address is right, reply \"refund\" to get your coins back."
}

func copyConfirmShipping(name, address string) string {
	return fmt.Sprintf("Shipping to:\n%s\n%s\n\nIs that right? (yes/no)", name, address)
}

func copyOrderConfirmed() string {
	return "Your order is confirmed and on its way soon. Thanks for joining the drop!"
}
