package money

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON serialises the amount as a major-unit decimal string, which
// is the format the provider API and the ledger use on the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToMajor())
}

// UnmarshalJSON accepts either a decimal string ("1.50") or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := FromMajor(s)
		if perr != nil {
			return perr
		}
		*a = parsed
		return nil
	}

	var f json.Number
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: expected string or number", ErrInvalidFormat)
	}
	parsed, err := FromMajor(f.String())
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
