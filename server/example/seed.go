package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/libdav/server/caldav"
	"github.com/cyp0633/libdav/server/carddav"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
)

type sampleEvent struct {
	summary  string
	location string
	offset   time.Duration
	length   time.Duration
}

var sampleCalendars = map[string]map[string][]sampleEvent{
	"alice": {
		"default": {
			{"Meeting with Team", "Conference Room A", 24 * time.Hour, time.Hour},
			{"Doctor Appointment", "Medical Center", 48 * time.Hour, time.Hour},
		},
		"work": {
			{"Project Review", "Office", 3 * 24 * time.Hour, 2 * time.Hour},
			{"Client Meeting", "Client HQ", 5 * 24 * time.Hour, 3 * time.Hour},
		},
	},
	"bob": {
		"default": {
			{"Grocery Shopping", "Supermarket", 6 * time.Hour, time.Hour},
			{"Gym", "Fitness Center", 30 * time.Hour, 2 * time.Hour},
		},
	},
}

var sampleContacts = map[string][]string{
	"alice": {"Bob Johnson", "Carol White"},
	"bob":   {"Alice Smith"},
}

// seedData fills the tree with sample principals, calendars and contacts.
func seedData(ctx context.Context, t *tree.Tree) error {
	now := time.Now()
	for user, calendars := range sampleCalendars {
		if err := mkdirAll(ctx, t, "principals/"+user, nil); err != nil {
			return err
		}
		for name, events := range calendars {
			dir := fmt.Sprintf("calendars/%s/%s", user, name)
			if err := mkdirAll(ctx, t, dir, []dav.Name{caldav.ResourceTypeCalendar}); err != nil {
				return err
			}
			for _, e := range events {
				data, err := encodeEvent(e.summary, e.location, now.Add(e.offset), now.Add(e.offset+e.length))
				if err != nil {
					return err
				}
				if err := createFile(ctx, t, dir, uuid.New().String()[:8]+".ics", data); err != nil {
					return err
				}
			}
		}
	}
	for user, names := range sampleContacts {
		dir := fmt.Sprintf("addressbooks/%s/contacts", user)
		if err := mkdirAll(ctx, t, dir, []dav.Name{carddav.ResourceTypeAddressBook}); err != nil {
			return err
		}
		for _, name := range names {
			data, err := encodeContact(name)
			if err != nil {
				return err
			}
			if err := createFile(ctx, t, dir, uuid.New().String()[:8]+".vcf", data); err != nil {
				return err
			}
		}
	}
	return nil
}

// mkdirAll creates p and its ancestors; p itself gets resourceType.
func mkdirAll(ctx context.Context, t *tree.Tree, p string, resourceType []dav.Name) error {
	segs := dav.Segments(p)
	for i := range segs {
		current := dav.JoinPath(segs[:i+1]...)
		if exists, err := t.Exists(ctx, current); err != nil || exists {
			if err != nil {
				return err
			}
			continue
		}
		parent, err := t.ResolveCollection(ctx, dav.JoinPath(segs[:i]...))
		if err != nil {
			return err
		}
		if i < len(segs)-1 || len(resourceType) == 0 {
			err = parent.CreateCollection(ctx, segs[i])
		} else if ext, ok := parent.(tree.ExtendedCollection); ok {
			err = ext.CreateExtendedCollection(ctx, segs[i], resourceType, dav.NewPropPatch(current, nil))
		} else {
			err = fmt.Errorf("/%s cannot hold extended collections", dav.JoinPath(segs[:i]...))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func createFile(ctx context.Context, t *tree.Tree, dir, name string, data []byte) error {
	parent, err := t.ResolveCollection(ctx, dir)
	if err != nil {
		return err
	}
	_, err = parent.CreateFile(ctx, name, bytes.NewReader(data))
	return err
}

func encodeEvent(summary, location string, start, end time.Time) ([]byte, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uuid.New().String())
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetText(ical.PropLocation, location)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//libdav//Example Server//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeContact(name string) ([]byte, error) {
	card := vcard.Card{}
	card.SetValue(vcard.FieldVersion, "4.0")
	card.SetValue(vcard.FieldUID, "urn:uuid:"+uuid.New().String())
	card.SetValue(vcard.FieldFormattedName, name)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
