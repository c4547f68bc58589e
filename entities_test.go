package archibald

import (
	"testing"

	"github.com/pkg/errors"
)

func TestValidateQuantity(t *testing.T) {
	if err := ValidateQuantity(12, 6, 6); err != nil {
		t.Fatalf("12 with min 6 multiple 6 should pass, got %v", err)
	}

	err := ValidateQuantity(3, 6, 6)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if ve.Suggested != "6" {
		t.Fatalf("below minimum should suggest the minimum, got %q", ve.Suggested)
	}

	err = ValidateQuantity(8, 6, 6)
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	// Rounds up to the next multiple, never silently down.
	if ve.Suggested != "12" {
		t.Fatalf("off-multiple should suggest the next multiple up, got %q", ve.Suggested)
	}

	if Classify(err) != ClassValidation {
		t.Fatalf("validation errors must classify as validation")
	}
}

func TestPriceIdentityIncludesValidity(t *testing.T) {
	a := &Price{ProductID: "P001", ItemSelection: "A", ValidFrom: "2026-01-01"}
	b := &Price{ProductID: "P001", ItemSelection: "A", ValidFrom: "2026-06-01"}
	if a.Identity() == b.Identity() {
		t.Fatalf("price rows with different validity must not collide")
	}
}

func TestOrderLineIdentity(t *testing.T) {
	a := &OrderLine{OrderID: "ORD-1", LineNumber: 1}
	b := &OrderLine{OrderID: "ORD-1", LineNumber: 2}
	if a.Identity() == b.Identity() {
		t.Fatalf("order lines must be keyed per line")
	}
}

func TestCustomerHashTracksEveryField(t *testing.T) {
	c := &Customer{
		ProfileID: "C001", Name: "Rossi Srl", VATNumber: "IT01234567890",
		PEC: "rossi@pec.it", SDI: "ABC1234", FiscalCode: "RSSMRA80A01F205X",
		Street: "Via Roma 1", PostalCode: "20100", City: "Milano",
		Phone: "02 1234567", Mobile: "333 1234567",
	}
	base := ContentHash(c.HashFields())
	c.Mobile = "333 7654321"
	if ContentHash(c.HashFields()) == base {
		t.Fatalf("mobile change must change the hash")
	}
}
