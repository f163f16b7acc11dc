// Package ofx turns OFX/QFX statements into records for analysis.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags missing their closing bracket at end of line.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

var vendorPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// Parser converts OFX statements into records.
type Parser struct {
	// IncludeCredits keeps deposits and refunds. Only debits are kept by default.
	IncludeCredits bool
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (p *Parser) parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OFX file: %w", common.ErrDataIntegrity, err)
	}
	return resp, nil
}

// ParseFile parses an OFX/QFX file and returns one record per transaction.
// Record IDs are "<account>-<FITID>" so statements from several accounts can
// share one file without colliding.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.Record, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	var records []model.Record
	var bankStmts, ccStmts, skipped int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		for _, tx := range stmt.BankTranList.Transactions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, keep := p.convert(tx, string(stmt.BankAcctFrom.AcctID))
			if !keep {
				skipped++
				continue
			}
			records = append(records, rec)
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmts++
		for _, tx := range stmt.BankTranList.Transactions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, keep := p.convert(tx, string(stmt.CCAcctFrom.AcctID))
			if !keep {
				skipped++
				continue
			}
			records = append(records, rec)
		}
	}

	slog.Info("Parsed OFX file",
		"records", len(records),
		"skipped_credits", skipped,
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return records, nil
}

// convert maps one OFX transaction to a record. OFX carries no tax line, so
// TaxAmount stays zero unless a later stage supplies it.
func (p *Parser) convert(tx ofxgo.Transaction, accountID string) (model.Record, bool) {
	amount, _ := tx.TrnAmt.Float64()
	direction := "debit"
	if amount > 0 {
		direction = "credit"
		if !p.IncludeCredits {
			return model.Record{}, false
		}
	}
	if amount < 0 {
		amount = -amount
	}

	trnType := tx.TrnType.String()
	rec := model.Record{
		ID:          accountID + "-" + string(tx.FiTID),
		Date:        tx.DtPosted.Time,
		Vendor:      vendorName(tx),
		Description: description(tx),
		Category:    categoryFor(trnType),
		Amount:      amount,
		Extra: map[string]string{
			"account":   accountID,
			"fitid":     string(tx.FiTID),
			"trn_type":  trnType,
			"direction": direction,
		},
	}
	if tx.CheckNum != "" {
		rec.Extra["check_number"] = string(tx.CheckNum)
	}
	rec.Hash = rec.ComputeHash()
	return rec, true
}

// OFX has no categories; a few transaction types imply one.
func categoryFor(trnType string) string {
	switch trnType {
	case "INT":
		return "interest"
	case "FEE", "SRVCHG":
		return "bank fees"
	case "ATM", "CASH":
		return "cash"
	}
	return ""
}

func description(tx ofxgo.Transaction) string {
	parts := []string{strings.TrimSpace(string(tx.Name))}
	if memo := strings.TrimSpace(string(tx.Memo)); memo != "" && memo != parts[0] {
		parts = append(parts, memo)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// vendorName prefers PAYEE, then NAME, then MEMO when NAME is generic.
func vendorName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && genericNames[strings.ToUpper(strings.TrimSpace(name))] {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range vendorPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " posting dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

// Accounts lists the account IDs present in the file, sorted.
func (p *Parser) Accounts(reader io.Reader) ([]string, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankAcctFrom.AcctID != "" {
			seen[string(stmt.BankAcctFrom.AcctID)] = true
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.CCAcctFrom.AcctID != "" {
			seen[string(stmt.CCAcctFrom.AcctID)] = true
		}
	}

	accounts := make([]string, 0, len(seen))
	for acct := range seen {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	return accounts, nil
}
