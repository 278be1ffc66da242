package davclient

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
)

const (
	calendarContentType = "text/calendar; charset=utf-8"
	vcardContentType    = "text/vcard; charset=utf-8"
	prodID              = "-//github.com/cyp0633/libdav//NONSGML v1.0//EN"
)

// eventToBytes converts an ical.Event to iCalendar format bytes
func eventToBytes(event *ical.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)
	return encodeCalendar(cal)
}

func encodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeCard(card vcard.Card) ([]byte, error) {
	if card.Value(vcard.FieldVersion) == "" {
		vcard.ToV4(card)
	}
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("failed to encode vcard: %w", err)
	}
	return buf.Bytes(), nil
}

// newMember returns the URL of a fresh member of collection named by a
// random UUID.
func (c *Client) newMember(collection, ext string) (string, error) {
	base, err := url.Parse(c.resolve(collection))
	if err != nil {
		return "", fmt.Errorf("failed to parse collection URL: %w", err)
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}
	ref, err := url.Parse(uuid.New().String() + ext)
	if err != nil {
		return "", fmt.Errorf("failed to parse object URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// CreateCalendarObject creates a new calendar object in the specified
// collection URL. Returns the URL of the created object and its etag.
func (c *Client) CreateCalendarObject(ctx context.Context, collectionURL string, event *ical.Event) (objectURL string, etag string, err error) {
	objectURL, err = c.newMember(collectionURL, ".ics")
	if err != nil {
		return "", "", err
	}
	data, err := eventToBytes(event)
	if err != nil {
		return "", "", err
	}
	etag, err = c.put(ctx, objectURL, calendarContentType, "*", data)
	if err != nil {
		return "", "", err
	}
	return objectURL, etag, nil
}

// UpdateCalendarObject replaces the event at objectURL if its etag is
// still etag. An empty etag overwrites unconditionally.
func (c *Client) UpdateCalendarObject(ctx context.Context, objectURL string, event *ical.Event, etag string) (string, error) {
	data, err := eventToBytes(event)
	if err != nil {
		return "", err
	}
	return c.put(ctx, objectURL, calendarContentType, etag, data)
}

// PutCalendar stores cal at href. The etag works as for
// UpdateCalendarObject; "*" only creates.
func (c *Client) PutCalendar(ctx context.Context, href string, cal *ical.Calendar, etag string) (string, error) {
	data, err := encodeCalendar(cal)
	if err != nil {
		return "", err
	}
	return c.put(ctx, href, calendarContentType, etag, data)
}

func (c *Client) put(ctx context.Context, href, contentType, etag string, data []byte) (string, error) {
	newEtag, err := c.http.DoPUT(ctx, href, contentType, etag, data)
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", href, err)
	}
	if newEtag == "" {
		return c.etag(ctx, href)
	}
	return newEtag, nil
}

// GetCalendarObject fetches and parses the calendar at href.
func (c *Client) GetCalendarObject(ctx context.Context, href string) (*CalendarObject, error) {
	data, etag, err := c.http.DoGET(ctx, href)
	if err != nil {
		return nil, err
	}
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar at %s: %w", href, err)
	}
	return &CalendarObject{URI: c.resolve(href), ETag: etag, Calendar: cal}, nil
}

// CreateContact stores card as a new member of an address book. A card
// without UID gets a random one.
func (c *Client) CreateContact(ctx context.Context, addressBook string, card vcard.Card) (objectURL string, etag string, err error) {
	if card.Value(vcard.FieldUID) == "" {
		card.SetValue(vcard.FieldUID, uuid.New().String())
	}
	objectURL, err = c.newMember(addressBook, ".vcf")
	if err != nil {
		return "", "", err
	}
	data, err := encodeCard(card)
	if err != nil {
		return "", "", err
	}
	etag, err = c.put(ctx, objectURL, vcardContentType, "*", data)
	if err != nil {
		return "", "", err
	}
	return objectURL, etag, nil
}

// UpdateContact replaces the card at href if its etag is still etag.
func (c *Client) UpdateContact(ctx context.Context, href string, card vcard.Card, etag string) (string, error) {
	data, err := encodeCard(card)
	if err != nil {
		return "", err
	}
	return c.put(ctx, href, vcardContentType, etag, data)
}

// GetContact fetches and parses the card at href.
func (c *Client) GetContact(ctx context.Context, href string) (*ContactObject, error) {
	data, etag, err := c.http.DoGET(ctx, href)
	if err != nil {
		return nil, err
	}
	card, err := vcard.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse vcard at %s: %w", href, err)
	}
	return &ContactObject{URI: c.resolve(href), ETag: etag, Card: card}, nil
}

// Delete removes the resource at href. A non-empty etag makes the
// request conditional.
func (c *Client) Delete(ctx context.Context, href string, etag string) error {
	if err := c.http.DoDELETE(ctx, href, etag); err != nil {
		return fmt.Errorf("failed to delete %s: %w", href, err)
	}
	return nil
}

func (c *Client) etag(ctx context.Context, href string) (string, error) {
	ms, err := c.http.DoPROPFIND(ctx, href, dav.DepthZero, dav.PropGetETag)
	if err != nil {
		return "", fmt.Errorf("failed to get new etag: %w", err)
	}
	for _, r := range ms.Responses {
		if etag := r.Text(dav.PropGetETag); etag != "" {
			return etag, nil
		}
	}
	return "", fmt.Errorf("no etag found for %s", href)
}
