package domain

import (
	"errors"
	"strconv"
)

var (
	// ErrDateFormat возвращается, когда дата не подходит ни под одну грамматику.
	ErrDateFormat = errors.New("неверный формат даты")
	// ErrInvalidRange возвращается, когда начало периода позже конца.
	ErrInvalidRange = errors.New("начало периода позже конца")
	// ErrChannelNotFound возвращается, когда канал не удалось найти.
	ErrChannelNotFound = errors.New("канал не найден")
	// ErrChannelAccessDenied возвращается, когда нет прав на чтение истории канала.
	ErrChannelAccessDenied = errors.New("нет прав на чтение истории канала")
	// ErrRemoteSheetMissing возвращается, когда лист таблицы отсутствует.
	ErrRemoteSheetMissing = errors.New("лист таблицы не найден")
	// ErrSheetExists возвращается при попытке создать уже существующий лист.
	ErrSheetExists = errors.New("лист таблицы уже существует")
	// ErrExportTooLarge возвращается, когда файл превышает лимит загрузки.
	ErrExportTooLarge = errors.New("файл превышает лимит загрузки")
	// ErrUnclassifiedRemote оборачивает прочие ошибки удалённых API.
	ErrUnclassifiedRemote = errors.New("ошибка удалённого API")
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
