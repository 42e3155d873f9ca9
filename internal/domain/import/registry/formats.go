package registry

import (
	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
)

// Built-in format names.
const (
	BankChecking   = "bank_checking"
	BankCreditCard = "bank_creditcard"
	CardIssuer     = "card_issuer"
	CGDChecking    = "cgd_checking"
)

func builtinFormats() []Format {
	return []Format{
		{
			Name:        BankChecking,
			Institution: "Generic bank",
			Description: "Checking account CSV with Date, Description and signed Amount columns",
			Signature: Signature{
				RequiredHeaders: []string{"Date", "Amount", "Description"},
				MinColumns:      3,
				MaxColumns:      5,
			},
			Config: format(repository.ImportConfig{
				AccountSource:     "Checking",
				DateColumn:        "Date",
				AmountColumn:      "Amount",
				DescriptionColumn: "Description",
				DateFormat:        "%m/%d/%Y",
			}),
		},
		{
			Name:        BankCreditCard,
			Institution: "Generic bank",
			Description: "Credit card CSV where charges are positive and payments negative",
			Signature: Signature{
				RequiredHeaders: []string{"Trans. Date", "Post Date", "Description", "Amount", "Category"},
				MinColumns:      5,
				MaxColumns:      6,
			},
			Config: format(repository.ImportConfig{
				AccountSource:     "Credit Card",
				DateColumn:        "Trans. Date",
				AmountColumn:      "Amount",
				DescriptionColumn: "Description",
				CategoryColumn:    "Category",
				DateFormat:        "%m/%d/%Y",
				AmountFormat: normalizer.AmountFormat{
					Convention:         normalizer.SignNegativePrefix,
					ThousandsSeparator: ",",
					InvertSign:         true,
				},
			}),
		},
		{
			Name:        CardIssuer,
			Institution: "Card issuer",
			Description: "Card statement CSV with account metadata rows above the header",
			Signature: Signature{
				RequiredHeaders: []string{"Date", "Reference", "Description", "Card Member", "Amount"},
				MinColumns:      5,
				MaxColumns:      8,
				Preamble:        true,
			},
			Config: format(repository.ImportConfig{
				AccountSource:     "Card",
				DateColumn:        "Date",
				AmountColumn:      "Amount",
				DescriptionColumn: "Description",
				ReferenceColumn:   "Reference",
				DateFormat:        "%m/%d/%Y",
				AmountFormat: normalizer.AmountFormat{
					Convention:         normalizer.SignNegativePrefix,
					CurrencyPrefix:     "$",
					ThousandsSeparator: ",",
					InvertSign:         true,
				},
			}),
		},
		{
			Name:        CGDChecking,
			Institution: "Caixa Geral de Depósitos",
			Description: "Semicolon separated statement with European amounts and a metadata preamble",
			Signature: Signature{
				RequiredHeaders: []string{"Data mov.", "Descrição", "Montante"},
				MinColumns:      3,
				MaxColumns:      8,
				Preamble:        true,
			},
			Config: format(repository.ImportConfig{
				AccountSource:     "CGD",
				DateColumn:        "Data mov.",
				AmountColumn:      "Montante",
				DescriptionColumn: "Descrição",
				DateFormat:        "%d-%m-%Y",
				AmountFormat: normalizer.AmountFormat{
					Convention:         normalizer.SignNegativePrefix,
					ThousandsSeparator: ".",
				},
				RowHandling: repository.RowHandling{
					SkipPatterns:  []string{`(?i)^saldo`},
					SkipEmptyRows: true,
				},
			}),
		},
	}
}

// format fills the unset formatting fields of a built-in config.
func format(cfg repository.ImportConfig) repository.ImportConfig {
	cfg = cfg.WithDefaults()
	cfg.RowHandling.SkipEmptyRows = true
	if cfg.MerchantSplitChars == "" {
		cfg.MerchantSplitChars = normalizer.DefaultMerchantSplitChars
	}
	return cfg
}
