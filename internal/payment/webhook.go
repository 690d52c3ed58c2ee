package payment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xenking/dumpster-directory/internal/domain/billing"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks webhook signatures and decodes events.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a Verifier for the endpoint signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify checks the Stripe-Signature header and decodes the event. Event
// objects from any API version are accepted.
func (v *Verifier) Verify(payload []byte, signature string) (billing.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return billing.Event{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	out := billing.Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case billing.EventCheckoutCompleted:
		out.Checkout, err = decodeCheckout(ev.Data.Raw)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		out.Subscription, err = decodeSubscription(ev.Data.Raw)
	case billing.EventInvoicePaid, billing.EventInvoiceFailed:
		out.Invoice, err = decodeInvoice(ev.Data.Raw)
	}
	if err != nil {
		return billing.Event{}, errors.Wrapf(err, "decode %s", out.Type)
	}
	return out, nil
}

func decodeCheckout(raw []byte) (*billing.CheckoutCompleted, error) {
	var c billing.CheckoutCompleted
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			c.SessionID, err = d.Str()
		case "mode":
			c.Mode, err = optStr(d)
		case "customer":
			c.CustomerID, err = ref(d)
		case "subscription":
			c.SubscriptionID, err = ref(d)
		case "client_reference_id":
			c.ClientReferenceID, err = optStr(d)
		case "amount_total":
			c.AmountTotal, err = optInt(d)
		case "metadata":
			c.Metadata, err = metadata(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeSubscription(raw []byte) (*billing.SubscriptionChange, error) {
	var (
		s          billing.SubscriptionChange
		periodEnd  int64
		itemPeriod int64
	)
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			s.ID, err = d.Str()
		case "customer":
			s.CustomerID, err = ref(d)
		case "status":
			s.Status, err = optStr(d)
		case "cancel_at_period_end":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s.CancelAtPeriodEnd, err = d.Bool()
		case "current_period_end":
			periodEnd, err = optInt(d)
		case "items":
			err = listData(d, func(d *jx.Decoder) error {
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "price":
						id, err := ref(d)
						if err == nil && s.PriceID == "" {
							s.PriceID = id
						}
						return err
					case "current_period_end":
						v, err := optInt(d)
						if err == nil && itemPeriod == 0 {
							itemPeriod = v
						}
						return err
					default:
						return d.Skip()
					}
				})
			})
		case "metadata":
			s.Metadata, err = metadata(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// Newer API versions moved the billing period onto subscription items.
	if periodEnd == 0 {
		periodEnd = itemPeriod
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		s.CurrentPeriodEnd = &t
	}
	return &s, nil
}

func decodeInvoice(raw []byte) (*billing.InvoiceEvent, error) {
	var (
		inv        billing.InvoiceEvent
		parentMeta map[string]string
		lineMeta   = make(map[string]string)
	)
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			inv.ID, err = d.Str()
		case "customer":
			inv.CustomerID, err = ref(d)
		case "subscription":
			var id string
			if id, err = ref(d); err == nil && id != "" {
				inv.SubscriptionID = id
			}
		case "parent":
			// Newer API versions: parent.subscription_details.{subscription,metadata}.
			err = optObj(d, func(d *jx.Decoder, key []byte) error {
				if string(key) != "subscription_details" {
					return d.Skip()
				}
				return optObj(d, func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "subscription":
						id, err := ref(d)
						if err == nil && inv.SubscriptionID == "" {
							inv.SubscriptionID = id
						}
						return err
					case "metadata":
						m, err := metadata(d)
						if err == nil {
							parentMeta = m
						}
						return err
					default:
						return d.Skip()
					}
				})
			})
		case "amount_paid":
			inv.AmountPaid, err = optInt(d)
		case "amount_due":
			inv.AmountDue, err = optInt(d)
		case "billing_reason":
			inv.BillingReason, err = optStr(d)
		case "lines":
			err = listData(d, func(d *jx.Decoder) error {
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "price":
						id, err := ref(d)
						if err == nil && inv.PriceID == "" {
							inv.PriceID = id
						}
						return err
					case "metadata":
						// Subscription lines carry the subscription metadata.
						m, err := metadata(d)
						for k, v := range m {
							if _, ok := lineMeta[k]; !ok {
								lineMeta[k] = v
							}
						}
						return err
					case "pricing":
						return optObj(d, func(d *jx.Decoder, key []byte) error {
							if string(key) != "price_details" {
								return d.Skip()
							}
							return optObj(d, func(d *jx.Decoder, key []byte) error {
								if string(key) != "price" {
									return d.Skip()
								}
								id, err := ref(d)
								if err == nil && inv.PriceID == "" {
									inv.PriceID = id
								}
								return err
							})
						})
					default:
						return d.Skip()
					}
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	inv.Metadata = lineMeta
	for k, v := range parentMeta {
		if v != "" {
			inv.Metadata[k] = v
		}
	}
	return &inv, nil
}

// ref reads an expandable field: an ID string, an expanded object with an
// "id" key, or null.
func ref(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Object:
		var id string
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "id" {
				return d.Skip()
			}
			var err error
			id, err = d.Str()
			return err
		})
		return id, err
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optInt(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int64()
}

func optObj(d *jx.Decoder, f func(d *jx.Decoder, key []byte) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.ObjBytes(f)
}

func metadata(d *jx.Decoder) (map[string]string, error) {
	m := make(map[string]string)
	err := optObj(d, func(d *jx.Decoder, key []byte) error {
		v, err := optStr(d)
		if err == nil {
			m[string(key)] = v
		}
		return err
	})
	return m, err
}

// listData iterates the "data" array of a Stripe list object.
func listData(d *jx.Decoder, f func(d *jx.Decoder) error) error {
	return optObj(d, func(d *jx.Decoder, key []byte) error {
		if string(key) != "data" {
			return d.Skip()
		}
		return d.Arr(f)
	})
}
