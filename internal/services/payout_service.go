package services

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
	"github.com/codewizard26/rebnb-hack/internal/token"
)

// PayoutService exports completed reservations as ISO 20022 payment
// instructions for the off-chain settlement rail. The escrow ledger releases
// funds in-protocol; this export feeds the marketplace's fiat bookkeeping.
type PayoutService struct {
	reader ledger.Reader
	tok    token.Token
}

func NewPayoutService(reader ledger.Reader, tok token.Token) *PayoutService {
	return &PayoutService{reader: reader, tok: tok}
}

// PayoutSplit is how a reservation's takings divide between parties.
type PayoutSplit struct {
	BookingID   uint64   `json:"bookingId"`
	TotalPaid   *big.Int `json:"-"`
	Total       string   `json:"total"`
	OwnerShare  string   `json:"ownerShare"`
	BrokerShare string   `json:"brokerShare"`
	Owner       string   `json:"owner"`
	Broker      string   `json:"broker"`
}

// ExportPayout produces a pacs.008 payout instruction for a reservation
// @Summary Export payout instruction
// @Description Split a completed reservation's takings by the recorded share basis points and emit pacs.008 XML
// @Tags payouts
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} object{status=string,messageType=string,split=PayoutSplit,xml=string}
// @Failure 409 {object} ErrorResponse
// @Router /bookings/{bookingId}/payout [get]
func (s *PayoutService) ExportPayout(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}

	snap, err := s.reader.GetReservation(r.Context(), bookingID)
	if err != nil || snap == nil {
		SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
		return
	}

	// Shares become payable at finalization; RENTED just means the room was
	// also unlocked.
	if snap.State != booking.StateFinalized && snap.State != booking.StateRented {
		SendErrorResponse(w, "Reservation has no payable takings: state "+snap.State.String(), http.StatusConflict, nil)
		return
	}

	split := s.Split(snap)

	doc, err := s.CreatePacs008(snap, split)
	if err != nil {
		log.Printf("[PAYOUT] pacs.008 build failed for booking %d: %v", bookingID, err)
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "exported",
		"messageType": "pacs.008.001.08",
		"split":       split,
		"xml":         xmlData,
	})
}

// Split divides TotalPaid by the share basis points recorded on the
// reservation. On a re-rent the broker is the original payer; otherwise the
// broker share is zero and everything goes to the owner.
func (s *PayoutService) Split(snap *booking.Snapshot) *PayoutSplit {
	total := snap.TotalPaid
	if total == nil {
		total = big.NewInt(0)
	}

	brokerShare := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(snap.BrokerShareBps)))
	brokerShare.Div(brokerShare, big.NewInt(10000))
	// Owner takes the remainder so the two shares always sum to the total.
	ownerShare := new(big.Int).Sub(total, brokerShare)

	split := &PayoutSplit{
		BookingID:   snap.BookingID,
		TotalPaid:   total,
		Total:       s.tok.Format(total),
		OwnerShare:  s.tok.Format(ownerShare),
		BrokerShare: s.tok.Format(brokerShare),
		Owner:       snap.Owner,
	}
	if snap.IsRerent && brokerShare.Sign() > 0 {
		split.Broker = snap.OriginalPayer
	}
	return split
}

// CreatePacs008 builds the FI-to-FI credit transfer carrying the payout legs.
func (s *PayoutService) CreatePacs008(snap *booking.Snapshot, split *PayoutSplit) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	totalValue, err := decimalValue(split.Total)
	if err != nil {
		return nil, err
	}

	legs := []struct {
		amount string
		payee  string
	}{
		{split.OwnerShare, split.Owner},
	}
	if split.Broker != "" {
		legs = append(legs, struct {
			amount string
			payee  string
		}{split.BrokerShare, split.Broker})
	}

	transfers := make([]pacs_v08.CreditTransferTransaction39, 0, len(legs))
	for i, leg := range legs {
		value, err := decimalValue(leg.amount)
		if err != nil {
			return nil, err
		}
		endToEnd := fmt.Sprintf("booking-%d-leg-%d", snap.BookingID, i)
		txId := fmt.Sprintf("%s-%d", msgId[:8], i)

		transfers = append(transfers, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &[]common.Max35Text{common.Max35Text(txId)}[0],
				EndToEndId: common.Max35Text(endToEnd),
				TxId:       &[]common.Max35Text{common.Max35Text(txId)}[0],
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.tok.Symbol),
				Value: value,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("REBNBESC")}[0],
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(fmt.Sprintf("escrow booking %d", snap.BookingID))}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text("REBNB"),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(leg.payee)}[0],
			},
		})
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: common.Max15NumericText(strconv.Itoa(len(transfers))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.tok.Symbol),
				Value: totalValue,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: transfers,
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (s *PayoutService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

func decimalValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid payout amount %q: %w", s, err)
	}
	return v, nil
}
