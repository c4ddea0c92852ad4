package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	MsgInstallSuccess     = "%s installed"
	MsgInstallFailure     = "%s could not be installed"
	MsgRootUnavailable    = "Root install is not available on this device"
	MsgBrokerNotRunning   = "The install broker is not running"
	MsgBrokerNoPermission = "The install broker refused this user"
	MsgSessionUnavailable = "No device is ready for a session install"
	MsgOpeningLink        = "Opening %s in the browser"
)

var supported = []language.Tag{language.English, language.Spanish, language.Russian}

var translations = map[language.Tag]map[string]string{
	language.Spanish: {
		MsgInstallSuccess:     "%s instalada",
		MsgInstallFailure:     "No se pudo instalar %s",
		MsgRootUnavailable:    "La instalación root no está disponible en este dispositivo",
		MsgBrokerNotRunning:   "El servicio de instalación no está en ejecución",
		MsgBrokerNoPermission: "El servicio de instalación rechazó a este usuario",
		MsgSessionUnavailable: "Ningún dispositivo está listo para una instalación por sesión",
		MsgOpeningLink:        "Abriendo %s en el navegador",
	},
	language.Russian: {
		MsgInstallSuccess:     "%s установлено",
		MsgInstallFailure:     "Не удалось установить %s",
		MsgRootUnavailable:    "Установка с root недоступна на этом устройстве",
		MsgBrokerNotRunning:   "Служба установки не запущена",
		MsgBrokerNoPermission: "Служба установки отклонила этого пользователя",
		MsgSessionUnavailable: "Нет устройства, готового к установке через сессию",
		MsgOpeningLink:        "Открываем %s в браузере",
	},
}

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{
		MsgInstallSuccess, MsgInstallFailure, MsgRootUnavailable, MsgBrokerNotRunning,
		MsgBrokerNoPermission, MsgSessionUnavailable, MsgOpeningLink,
	} {
		b.SetString(language.English, key, key)
	}
	for tag, msgs := range translations {
		for key, text := range msgs {
			b.SetString(tag, key, text)
		}
	}
	return b
}
