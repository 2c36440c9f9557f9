package router

// User-facing texts. The bot speaks Uzbek.
const (
	textWelcome = "Salom %s!\n\n" +
		"Men Challenge Bot - har kuni avtomatik xabar yuborish uchun yaratilgan bot.\n\n" +
		"📋 Mening imkoniyatlarim:\n" +
		"• /kanal_ulash - Kanal ulash\n" +
		"• /kanallarim - Ulangan kanallar\n" +
		"• /send - Xabar rejalashtirish\n" +
		"• /rejalarim - Rejalashtirilgan xabarlar"
	textSupport = "\n\n❓ Savollar bo'lsa: %s"

	textLinkPrompt = "📢 Kanal ulash uchun kanal username yoki ID ni yuboring:\n\n" +
		"Masalan: @mychannel yoki -1001234567890\n\n" +
		"Bekor qilish uchun /cancel"
	textNotAdmin     = "❌ Bot kanalda admin emas! Botni admin qiling va xabar yuborish ruxsatini bering."
	textLinked       = "✅ Kanal muvaffaqiyatli ulandi!\n\n📢 Kanal: %s\n🆔 ID: %d"
	textResolveError = "❌ Xatolik: %s\n\nKanal username yoki ID ni to'g'ri kiriting yoki /cancel bosing."

	textNoChannels     = "📭 Sizda ulangan kanallar yo'q.\n\nKanal ulash uchun: /kanal_ulash"
	textChannelsHeader = "📋 Ulangan kanallar:\n\n"
	textChannelCard    = "%d⃣ Kanal nomi: ✅ %s\n🔗 Username: %s\n🆔 ID: %s\n"
	textNoUsername     = "🚫 Username yo'q"
	textDeleteButton   = "🗑 O'chirish"
	textChannelDeleted = "✅ Kanal o'chirildi!"
	textChannelGone    = "❌ Kanal topilmadi yoki allaqachon o'chirilgan."

	textNeedChannel  = "❌ Avval kanal ulashingiz kerak!\n\nKanal ulash uchun: /kanal_ulash"
	textPickChannel  = "📢 Qaysi kanalga xabar yubormoqchisiz?"
	textEnterMessage = "📝 Yangi xabar matnini kiriting:\n\n📢 Kanal: %s\n📅 Sana: %s\n\n" +
		"Xabar matnini quyiga yozing va yuboring."
	textEmptyMessage = "❌ Xabar matni bo'sh bo'lmasligi kerak."
	textEnterTime    = "⏰ Har kuni qaysi vaqtda yuborilsin?\n\nFormat: HH:MM\nMasalan: 09:30 yoki 18:45"
	textBadTime      = "❌ Noto'g'ri vaqt formati!\n\nTo'g'ri format: HH:MM\nMasalan: 09:30"
	textAskDate      = "📅 Xabarga sana va challenge kuni qo'shilsinmi?"
	textYes          = "✅ Ha"
	textNo           = "❌ Yo'q"
	textEnterEndDate = "🏁 Challenge tugash sanasini kiriting (YYYY-MM-DD).\n\n" +
		"Masalan: %s\n\nTugash sanasi kerak bo'lmasa: /skip"
	textBadEndDate = "❌ Noto'g'ri sana!\n\nFormat: YYYY-MM-DD, sana bugundan keyin bo'lishi kerak.\n\n" +
		"Tugash sanasi kerak bo'lmasa: /skip"
	textCreated = "✅ Reja muvaffaqiyatli yaratildi!\n\n" +
		"📢 Kanal: %s\n⏰ Vaqt: %s\n📅 Sana qo'shiladi: %s\n🔢 Reja raqami: %d\n\n" +
		"Xabar har kuni %s da yuboriladi."
	textCreatedEnd = "\n🏁 Tugash sanasi: %s"
	textArmFailed  = "❌ Rejani ishga tushirib bo'lmadi. Keyinroq qayta urinib ko'ring."

	textNoSchedules     = "📭 Sizda rejalashtirilgan xabarlar yo'q.\n\nReja yaratish uchun: /send"
	textSchedulesHeader = "📋 Rejalashtirilgan xabarlar:\n\n"
	textScheduleCard    = "🔢 Reja raqami: %d\n📢 Kanal: %s\n⏰ Vaqt: %s\n📅 Sana: %s\n📝 Xabar: %s\n"
	textScheduleButton  = "🗑 %d-reja o'chirish"
	textScheduleDeleted = "✅ Reja o'chirildi!"
	textScheduleGone    = "❌ Reja topilmadi yoki allaqachon o'chirilgan."

	textCancelled       = "❌ Amaliyot bekor qilindi."
	textNothingToCancel = "ℹ️ Bekor qilinadigan amaliyot yo'q."
	textNothingToSkip   = "ℹ️ Hozir o'tkazib yuboriladigan qadam yo'q."
	textUseCommands     = "ℹ️ Buyruqlar ro'yxati uchun /help"

	textUnknownCommand = "❓ Noma'lum buyruq. Yordam uchun /help"
	textUnauthorized   = "⛔ Bu buyruq faqat bot egasi uchun."
	textBusy           = "⏳ Bot band, birozdan keyin qayta urinib ko'ring."
	textInternalError  = "⚠️ Ichki xatolik yuz berdi. Keyinroq qayta urinib ko'ring."
)
