package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Friend is a contact on the bot account's friend list.
type Friend struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

// MemberPerm is the permission a member holds inside a group.
type MemberPerm string

const (
	PermMember        MemberPerm = "MEMBER"
	PermAdministrator MemberPerm = "ADMINISTRATOR"
	PermOwner         MemberPerm = "OWNER"
)

// Group is a group chat the bot account belongs to.
// Permission is the bot account's own permission in the group.
type Group struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Permission MemberPerm `json:"permission"`
}

// Member is a user's state inside one group.
type Member struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"memberName"`
	Permission         MemberPerm `json:"permission"`
	SpecialTitle       string     `json:"specialTitle,omitempty"`
	JoinTimestamp      int64      `json:"joinTimestamp,omitempty"`
	LastSpeakTimestamp int64      `json:"lastSpeakTimestamp,omitempty"`
	MuteTimeRemaining  int64      `json:"mutetimeRemaining,omitempty"`
	Group              Group      `json:"group"`
}

// Client is another client logged into the same account.
type Client struct {
	ID       int64  `json:"id"`
	Platform string `json:"platform"`
}

// Profile is a user's public profile.
type Profile struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
	Age      int    `json:"age,omitempty"`
	Level    int    `json:"level"`
	Sign     string `json:"sign"`
	Sex      string `json:"sex"` // UNKNOWN | MALE | FEMALE
}

// BotMessage is the gateway's answer to a send request.
type BotMessage struct {
	MessageID int64 `json:"messageId"`
}

// GroupConfig holds the editable settings of a group.
type GroupConfig struct {
	Name              string `json:"name,omitempty"`
	Announcement      string `json:"announcement,omitempty"`
	ConfessTalk       bool   `json:"confessTalk,omitempty"`
	AllowMemberInvite bool   `json:"allowMemberInvite,omitempty"`
	AutoApprove       bool   `json:"autoApprove,omitempty"`
	AnonymousChat     bool   `json:"anonymousChat,omitempty"`
}

// MemberInfo holds the editable state of a member. Editing needs admin rights.
type MemberInfo struct {
	Name         string `json:"name,omitempty"`
	SpecialTitle string `json:"specialTitle,omitempty"`
}

// DownloadInfo describes where and how often a group file was downloaded.
type DownloadInfo struct {
	SHA            string    `json:"sha"`
	MD5            string    `json:"md5"`
	DownloadTimes  int       `json:"downloadTimes"`
	UploaderID     int64     `json:"uploaderId"`
	UploadTime     time.Time `json:"-"`
	LastModifyTime time.Time `json:"-"`
	URL            string    `json:"url,omitempty"`
}

type downloadInfoWire struct {
	SHA            string `json:"sha"`
	MD5            string `json:"md5"`
	DownloadTimes  int    `json:"downloadTimes"`
	UploaderID     int64  `json:"uploaderId"`
	UploadTime     int64  `json:"uploadTime"`
	LastModifyTime int64  `json:"lastModifyTime"`
	URL            string `json:"url,omitempty"`
}

func (d DownloadInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(downloadInfoWire{
		SHA:            d.SHA,
		MD5:            d.MD5,
		DownloadTimes:  d.DownloadTimes,
		UploaderID:     d.UploaderID,
		UploadTime:     d.UploadTime.Unix(),
		LastModifyTime: d.LastModifyTime.Unix(),
		URL:            d.URL,
	})
}

func (d *DownloadInfo) UnmarshalJSON(data []byte) error {
	var w downloadInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = DownloadInfo{
		SHA:            w.SHA,
		MD5:            w.MD5,
		DownloadTimes:  w.DownloadTimes,
		UploaderID:     w.UploaderID,
		UploadTime:     time.Unix(w.UploadTime, 0),
		LastModifyTime: time.Unix(w.LastModifyTime, 0),
		URL:            w.URL,
	}
	return nil
}

// FileInfo describes a file or directory in a group's file area.
// Contact is either a Friend or a Group.
type FileInfo struct {
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	ID           string        `json:"id,omitempty"`
	Parent       *FileInfo     `json:"parent,omitempty"`
	Contact      any           `json:"contact,omitempty"`
	IsFile       bool          `json:"isFile"`
	IsDirectory  bool          `json:"isDirectory"`
	DownloadInfo *DownloadInfo `json:"downloadInfo,omitempty"`
}

func (f *FileInfo) UnmarshalJSON(data []byte) error {
	type plain FileInfo
	var w struct {
		plain
		Contact json.RawMessage `json:"contact,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = FileInfo(w.plain)
	f.Contact = nil
	contact, err := decodeContact(w.Contact)
	if err != nil {
		return fmt.Errorf("file contact: %w", err)
	}
	f.Contact = contact
	return nil
}

// decodeContact tells a friend from a group by the presence of "remark".
func decodeContact(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if len(probe) == 0 {
		return nil, nil
	}
	if _, ok := probe["remark"]; ok {
		var fr Friend
		if err := json.Unmarshal(raw, &fr); err != nil {
			return nil, err
		}
		return fr, nil
	}
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return g, nil
}
