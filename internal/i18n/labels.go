// Package i18n resolves user-facing label keys for the active display
// language. The catalog is an explicit value handed to whoever renders text;
// consumers that need to react to a language switch subscribe for changes.
package i18n

import "sync"

// Lang is a supported display language.
type Lang string

const (
	LangJapanese Lang = "ja"
	LangEnglish  Lang = "en"
)

// Valid reports whether the language is supported.
func (l Lang) Valid() bool {
	return l == LangJapanese || l == LangEnglish
}

// Key is a fixed label key. User-facing strings are opaque keys everywhere
// else in the workflow.
type Key string

const (
	KeyErrSoapRequired      Key = "err_soap_required"
	KeyErrTimeRequiresDate  Key = "err_time_requires_date"
	KeyErrDateRequiresTime  Key = "err_date_requires_time"
	KeyErrNoText            Key = "err_no_text"
	KeyErrAutoConvert       Key = "err_auto_convert"
	KeyErrSaveFailed        Key = "err_save_failed"
	KeyErrMaxImages         Key = "err_max_images"
	KeyErrMaxImagesSelected Key = "err_max_images_selected"
	KeyErrMicAccess         Key = "err_mic_access"
	KeyErrCameraAccess      Key = "err_camera_access"
	KeyErrVideoNotReady     Key = "err_video_not_ready"
	KeyErrImagePrepFailed   Key = "err_image_prep_failed"
	KeyErrTranscription     Key = "err_transcription_failed"
	KeyErrAudioFileProcess  Key = "err_audio_file_process"
	KeyMsgSaveSuccess       Key = "msg_save_success"
	KeyStatusListening      Key = "status_listening"
	KeyStatusProcessing     Key = "status_processing_audio"
	KeyStatusBooked         Key = "status_booked"
	KeyMsgNoAppointments    Key = "msg_no_appointments"
)

var dict = map[Key]map[Lang]string{
	KeyErrSoapRequired: {
		LangJapanese: "最低でも1つのSOAP項目（S/O/A/P）を入力してください。",
		LangEnglish:  "Please fill in at least one SOAP section (S/O/A/P).",
	},
	KeyErrTimeRequiresDate: {
		LangJapanese: "次回予約時間を設定した場合、日付も選択してください。",
		LangEnglish:  "If a next visit time is set, please also select a date.",
	},
	KeyErrDateRequiresTime: {
		LangJapanese: "次回予約日を設定した場合、時間も選択してください。",
		LangEnglish:  "If a next visit date is set, please also select a time.",
	},
	KeyErrNoText: {
		LangJapanese: "転写テキストがありません。",
		LangEnglish:  "There is no transcript text.",
	},
	KeyErrAutoConvert: {
		LangJapanese: "AIによるSOAP変換に失敗しました",
		LangEnglish:  "AI SOAP conversion failed",
	},
	KeyErrSaveFailed: {
		LangJapanese: "保存に失敗しました",
		LangEnglish:  "Saving the record failed",
	},
	KeyErrMaxImages: {
		LangJapanese: "画像は最大10枚までです。",
		LangEnglish:  "A record can hold at most 10 images.",
	},
	KeyErrMaxImagesSelected: {
		LangJapanese: "選択された画像を追加すると10枚を超えます。",
		LangEnglish:  "Adding the selected images would exceed the 10 image limit.",
	},
	KeyErrMicAccess: {
		LangJapanese: "マイクへのアクセスが許可されていません。設定を確認してください。",
		LangEnglish:  "Microphone access was denied. Please check your settings.",
	},
	KeyErrCameraAccess: {
		LangJapanese: "カメラを起動できませんでした。",
		LangEnglish:  "The camera could not be started.",
	},
	KeyErrVideoNotReady: {
		LangJapanese: "カメラ映像の準備ができていません。",
		LangEnglish:  "The camera preview is not ready yet.",
	},
	KeyErrImagePrepFailed: {
		LangJapanese: "画像の作成に失敗しました。",
		LangEnglish:  "Preparing the image failed.",
	},
	KeyErrTranscription: {
		LangJapanese: "音声認識の開始に失敗しました。",
		LangEnglish:  "Speech recognition failed to start.",
	},
	KeyErrAudioFileProcess: {
		LangJapanese: "音声ファイルの処理に失敗しました。",
		LangEnglish:  "Processing the audio file failed.",
	},
	KeyMsgSaveSuccess: {
		LangJapanese: "記録が正常に保存されました",
		LangEnglish:  "The record was saved successfully",
	},
	KeyStatusListening: {
		LangJapanese: "音声認識中... 話してください",
		LangEnglish:  "Listening... please speak",
	},
	KeyStatusProcessing: {
		LangJapanese: "音声ファイルを処理中...",
		LangEnglish:  "Processing audio...",
	},
	KeyStatusBooked: {
		LangJapanese: "（予約済み）",
		LangEnglish:  "(booked)",
	},
	KeyMsgNoAppointments: {
		LangJapanese: "この日に予定はありません",
		LangEnglish:  "No appointments on this day",
	},
}

// Catalog resolves keys for the currently selected language.
type Catalog struct {
	mu     sync.RWMutex
	lang   Lang
	nextID int
	subs   map[int]func(Lang)
}

func NewCatalog(lang Lang) *Catalog {
	if !lang.Valid() {
		lang = LangJapanese
	}
	return &Catalog{lang: lang, subs: make(map[int]func(Lang))}
}

// Lang returns the active display language.
func (c *Catalog) Lang() Lang {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// SetLang switches the display language and notifies subscribers. Unknown
// languages are ignored.
func (c *Catalog) SetLang(lang Lang) {
	if !lang.Valid() {
		return
	}

	c.mu.Lock()
	if c.lang == lang {
		c.mu.Unlock()
		return
	}
	c.lang = lang
	subs := make([]func(Lang), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(lang)
	}
}

// Subscribe registers a language-change callback and returns its cancel func.
func (c *Catalog) Subscribe(fn func(Lang)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Lookup resolves a key in the active language. Unknown keys resolve to the
// key itself so a missing entry stays visible instead of vanishing.
func (c *Catalog) Lookup(key Key) string {
	entry, ok := dict[key]
	if !ok {
		return string(key)
	}
	if text, ok := entry[c.Lang()]; ok {
		return text
	}
	return string(key)
}
