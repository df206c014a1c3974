package models

import "time"

// Email is a parsed mailbox message with its tracked metadata.
type Email struct {
	MessageID   string
	InReplyTo   string
	References  []string
	From        string
	To          []string
	DateSent    time.Time
	Subject     string
	TextBody    string
	Signature   string
	FileIDs     []int64
	Attachments int
	Folder      string
}

// Attachment is a decoded MIME part that passed the document filters.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Hash        string
	Content     []byte
	FileID      int64
}

// FileFormat describes a payload classified by its magic bytes.
type FileFormat struct {
	MIMEType    string
	Extension   string
	Description string
}

// Company mirrors a CRM company card persisted in the cmps table.
type Company struct {
	ID           int64     `db:"cmp_id"`
	Name         string    `db:"cmp_name"`
	Types        []string  `db:"cmp_types"`
	Nomenclature []string  `db:"cmp_nmn"`
	ContactName  string    `db:"contact_name"`
	ContactEmail string    `db:"contact_email"`
	Regions      []string  `db:"regions"`
	DateModify   time.Time `db:"date_modify"`
}

// Deal mirrors a CRM deal persisted in the deals table.
type Deal struct {
	ID         int64     `db:"deal_id"`
	Title      string    `db:"deal_title"`
	TypeDeal   []string  `db:"type_deal"`
	TypeNmn    []string  `db:"type_nmn"`
	WhoCreated string    `db:"who_created"`
	CreatedAt  time.Time `db:"created_ts"`
	Deadline   time.Time `db:"deadline"`
	DocID      int64     `db:"dock_id"`
	Regions    []string  `db:"regions"`
	IsClosed   bool      `db:"is_closed"`
}

// TrackedMessage is one outgoing request email tracked until it is answered.
type TrackedMessage struct {
	MsgID       string    `db:"msg_id"`
	DealID      int64     `db:"deal_id"`
	Sender      string    `db:"sender"`
	CompanyID   int64     `db:"company_id"`
	Receiver    string    `db:"receiver"`
	ContactName string    `db:"contact_name"`
	DocID       int64     `db:"dock_id"`
	Deadline    time.Time `db:"deadline"`
	DealTitle   string    `db:"deal_title"`
}

// Employee holds the signature block data rendered into outgoing mail.
type Employee struct {
	Name       string `db:"emp_name"`
	SecondName string `db:"emp_second_name"`
	Phone      string `db:"phone"`
	ExtraField string `db:"extra_field"`
	Post       string `db:"post"`
}

// Credential is a mailbox login with its decrypted app password.
type Credential struct {
	Email    string
	Password string
}

// ScanRecord logs one completed mailbox scan.
type ScanRecord struct {
	Manager  string
	ScanTS   time.Time
	Messages int
}
