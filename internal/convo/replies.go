package convo

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"doge-tipbot/internal/wallet"
)

const (
	replyUnknownCommand           = "Invalid command, please try another."
	replyMissingAddress           = "Missing wallet address."
	replyAlreadyRegisteredGeneric = "User already exists. Send info to see your deposit wallet."
	replyMissingWithdrawArgs      = "Missing amount and currency type."
	replyInvalidWithdrawArgs      = "Invalid currency type or amount, please try again."
	replyNoTransactions           = "No transactions yet."
)

func coinName(code string) string {
	if code == "DOGE" {
		return "doge"
	}
	return strings.ToLower(code)
}

func replyTryLater(action string) string {
	return fmt.Sprintf("There was an issue %s at this time, please try again later.", action)
}

func replyInvalidAddress(coin string) string {
	return fmt.Sprintf("Invalid %s address.", coinName(coin))
}

func replyAlreadyRegistered(deposit string) string {
	return "User already exists. Your deposit wallet is " + deposit
}

func replyRegistered(address, deposit string) string {
	return fmt.Sprintf("Successfully registered %s. Your deposit wallet is %s", address, deposit)
}

func replyNotRegistered(coin string) string {
	name := "DogeCoin"
	if coin != "DOGE" {
		name = coin
	}
	return fmt.Sprintf("You need to register, please try register <%s Address>", name)
}

func replyUnsupportedCurrency(requested, supported string) string {
	return fmt.Sprintf("Withdrawals in %s are not supported yet, only %s.", requested, supported)
}

func replyInsufficient(coin string) string {
	return fmt.Sprintf("Not enough %s to withdraw.", coin)
}

func replyWithdrawn(amount decimal.Decimal, coin, txid string) string {
	msg := fmt.Sprintf("Successful withdraw of %s %s", amount.String(), coin)
	if txid != "" {
		msg += ". Transaction: " + txid
	}
	return msg
}

func replyInfo(deposit string) string {
	return "Deposit Address: " + deposit
}

// formatHistory renders one line per transaction, most recent first.
func formatHistory(txs []wallet.Transaction, coin string) string {
	if len(txs) == 0 {
		return replyNoTransactions
	}
	var b strings.Builder
	b.WriteString("Recent transactions:")
	for _, tx := range txs {
		b.WriteString("\n- ")
		b.WriteString(tx.Category)
		b.WriteString(" ")
		b.WriteString(tx.Amount.String())
		b.WriteString(" ")
		b.WriteString(coin)
		if tx.Address != "" {
			b.WriteString(" ")
			b.WriteString(tx.Address)
		}
		fmt.Fprintf(&b, " (%d conf)", tx.Confirmations)
		if tx.Time > 0 {
			b.WriteString(" ")
			b.WriteString(time.Unix(tx.Time, 0).UTC().Format("2006-01-02"))
		}
		if tx.TxID != "" {
			b.WriteString(" tx ")
			b.WriteString(shortTxID(tx.TxID))
		}
	}
	return b.String()
}

func shortTxID(txid string) string {
	if len(txid) > 10 {
		return txid[:10]
	}
	return txid
}
